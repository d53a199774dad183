package vendors

import (
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"
)

// maxBodyLength caps how much of a vendor response is read.
const maxBodyLength = 64 << 10

// send executes req and returns the body of any non-5xx response. Transport
// failures, 5xx and 429 responses are transient.
func send(client *http.Client, vendor string, req *http.Request) ([]byte, int, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, classifyNetErr(vendor, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyLength))
	if err != nil {
		return nil, resp.StatusCode, classifyNetErr(vendor, err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return body, resp.StatusCode, transient(vendor, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body)))
	}
	return body, resp.StatusCode, nil
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// nairaString renders kobo as a naira amount, e.g. 150050 -> "1500.5".
func nairaString(kobo int64) string {
	return decimal.New(kobo, -2).String()
}

// parseNaira converts a naira amount from a vendor response into kobo.
func parseNaira(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d.Shift(2).Round(0).IntPart(), nil
}
