package freeipa

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// SessionLogin performs forms-based authentication against
// /ipa/session/login_password and stores the session cookie in the
// client's jar. Deployments using kerberos can skip this and hand
// NewRPCClient a client that already negotiates GSSAPI.
func SessionLogin(ctx context.Context, httpClient *http.Client, serverFQDN, username, password string) error {
	endpoint := fmt.Sprintf("https://%s/ipa/session/login_password", serverFQDN)
	form := url.Values{"user": {username}, "password": {password}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", fmt.Sprintf("https://%s/ipa", serverFQDN))
	req.Header.Set("Accept", "text/plain")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login to %s: %w", serverFQDN, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		reason := resp.Header.Get("X-IPA-Rejection-Reason")
		if reason == "" {
			reason = resp.Status
		}
		return fmt.Errorf("login to %s rejected: %s", serverFQDN, reason)
	}
	return nil
}
