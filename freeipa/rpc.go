package freeipa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// APIVersion is sent with every call. FreeIPA refuses requests carrying
// a version newer than the server's own.
const APIVersion = "2.231"

// RPCClient speaks the FreeIPA JSON-RPC protocol against
// https://<server>/ipa/session/json.
//
// Session establishment (kerberos or forms auth) is the caller's
// responsibility: the supplied http.Client must already carry a valid
// session cookie jar. The reconciler itself never authenticates.
type RPCClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewRPCClient(serverFQDN string, httpClient *http.Client) *RPCClient {
	return &RPCClient{
		baseURL:    fmt.Sprintf("https://%s/ipa", serverFQDN),
		httpClient: httpClient,
	}
}

type rpcRequest struct {
	Method string `json:"method"`
	Params [2]any `json:"params"`
	ID     int    `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Invoke posts one command to the server and decodes the response
// envelope. Server-side errors come back as *APIError; transport and
// decoding problems as wrapped errors.
func (c *RPCClient) Invoke(ctx context.Context, command string, options map[string]any) (*Response, error) {
	opts := make(map[string]any, len(options)+1)
	for k, v := range options {
		opts[k] = v
	}
	opts["version"] = APIVersion

	body, err := json.Marshal(rpcRequest{
		Method: command,
		Params: [2]any{[]any{}, opts},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", command, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", command, err)
	}
	req.Header.Set("Content-Type", "application/json")
	// The server rejects requests without a same-origin referer.
	req.Header.Set("Referer", c.baseURL)

	log.Debug().Str("command", command).Msg("invoking FreeIPA command")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", command, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("call %s: unexpected status %s", command, resp.Status)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", command, err)
	}

	var envelope rpcEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", command, err)
	}
	if envelope.Error != nil {
		return nil, &APIError{
			Code:    envelope.Error.Code,
			Name:    envelope.Error.Name,
			Message: envelope.Error.Message,
		}
	}

	var response Response
	if err := json.Unmarshal(envelope.Result, &response); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", command, err)
	}
	if err := response.decodeResult(); err != nil {
		return nil, fmt.Errorf("decode %s records: %w", command, err)
	}
	return &response, nil
}
