package sequences

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/vikasavnish/seqfuzz/pkg/transport"
)

// PollingURL returns the URL advertised by a 201/202 response for
// tracking asynchronous resource creation, or "".
func PollingURL(resp *transport.Response) string {
	if resp == nil || (resp.StatusCode != 201 && resp.StatusCode != 202) {
		return ""
	}
	if u := resp.Header("Azure-AsyncOperation"); u != "" {
		return u
	}
	return resp.Header("Location")
}

// WaitForResource polls the creation status URL of resp until the
// operation completes, fails or maxWait passes. It reports false only
// when the backend signals a failed creation; running out of time is not
// a failure.
func WaitForResource(ctx context.Context, tr transport.Transport, resp *transport.Response,
	maxWait, pollInterval time.Duration) (bool, error) {
	target := PollingURL(resp)
	if target == "" {
		return true, nil
	}
	azure := resp.Header("Azure-AsyncOperation") != ""
	raw := "GET " + requestURI(target) + " HTTP/1.1\r\nAccept: application/json\r\n\r\n"

	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(pollInterval):
		}

		poll, err := tr.Send(ctx, raw)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			continue
		}

		switch status := operationStatus(poll.Body); {
		case strings.EqualFold(status, "Succeeded"):
			return true, nil
		case strings.EqualFold(status, "Failed"), strings.EqualFold(status, "Canceled"):
			return false, nil
		case azure || status != "":
			continue
		}

		if poll.StatusCode >= 400 {
			return false, nil
		}
		if poll.StatusCode != 202 && IsValidStatus(poll.StatusCode) {
			return true, nil
		}
	}
	return true, nil
}

func operationStatus(body string) string {
	var doc struct {
		Status     string `json:"status"`
		Properties struct {
			ProvisioningState string `json:"provisioningState"`
		} `json:"properties"`
	}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return ""
	}
	if doc.Status != "" {
		return doc.Status
	}
	return doc.Properties.ProvisioningState
}

func requestURI(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Path == "" {
		return target
	}
	return u.RequestURI()
}
