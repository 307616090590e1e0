package capability

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/Pipeflow/internal/engine"
)

const (
	// NameHTTPRequest — имя HTTP capability.
	NameHTTPRequest = "core/http-request"

	// PermissionNetwork — scope для исходящих запросов.
	PermissionNetwork = "network:request"

	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB
)

// httpConfig — разобранный вход HTTP capability.
type httpConfig struct {
	Method          string
	URL             string
	Headers         map[string]string
	Body            any
	FollowRedirects bool
	ValidateSSL     bool
	TimeoutSec      int
	FailOnStatus    bool
}

// NewHTTPRequest создаёт capability HTTP запроса.
//
// Вход:
//
//	{
//	    "method": "POST",
//	    "url": "https://api.example.com/data",
//	    "headers": {"Authorization": "Bearer xxx"},
//	    "body": {"key": "value"},
//	    "follow_redirects": true,
//	    "validate_ssl": true,
//	    "timeout_sec": 30,
//	    "fail_on_status": false
//	}
//
// Результат:
//
//	{
//	    "status_code": 200,
//	    "headers": {"Content-Type": "application/json"},
//	    "body": {...}  // parsed JSON или string
//	}
//
// При fail_on_status статус >= 400 возвращается как Failure с кодом "http_status".
func NewHTTPRequest() Capability {
	return New(Definition{
		Name:        NameHTTPRequest,
		Description: "Performs an HTTP request and returns status, headers and body",
		Permission:  PermissionNetwork,
		Input: Schema{
			Type: "object",
			Properties: map[string]Property{
				"method":           {Type: "string", Description: "HTTP method, GET by default"},
				"url":              {Type: "string"},
				"headers":          {Type: "object"},
				"body":             {Type: "any"},
				"follow_redirects": {Type: "boolean"},
				"validate_ssl":     {Type: "boolean"},
				"timeout_sec":      {Type: "integer"},
				"fail_on_status":   {Type: "boolean"},
			},
			Required: []string{"url"},
		},
		Output: Schema{
			Type: "object",
			Properties: map[string]Property{
				"status_code": {Type: "integer"},
				"headers":     {Type: "object"},
				"body":        {Type: "any"},
			},
		},
		Handler: executeHTTP,
	})
}

func executeHTTP(ctx context.Context, input map[string]any) (any, error) {
	cfg, err := parseHTTPConfig(input)
	if err != nil {
		return nil, err
	}

	client := buildClient(cfg)

	req, err := buildRequest(ctx, cfg)
	if err != nil {
		return nil, &Failure{Code: "invalid_request", Message: err.Error(), Err: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", engine.ErrCancelled, ctx.Err())
		}
		return nil, &Failure{Code: "http_request", Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	result, err := parseResponse(resp)
	if err != nil {
		return nil, err
	}

	if cfg.FailOnStatus && resp.StatusCode >= 400 {
		return nil, &Failure{
			Code:    "http_status",
			Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			Details: result,
		}
	}

	return result, nil
}

// parseHTTPConfig разбирает вход HTTP capability.
func parseHTTPConfig(input map[string]any) (*httpConfig, error) {
	cfg := &httpConfig{
		Method:          engine.GetString(input, "method"),
		URL:             engine.GetString(input, "url"),
		Headers:         engine.GetMapString(input, "headers"),
		Body:            input["body"],
		FollowRedirects: engine.GetBool(input, "follow_redirects", true),
		ValidateSSL:     engine.GetBool(input, "validate_ssl", true),
		TimeoutSec:      engine.GetInt(input, "timeout_sec"),
		FailOnStatus:    engine.GetBool(input, "fail_on_status", false),
	}

	if cfg.URL == "" {
		return nil, &Failure{Code: "invalid_input", Message: "url must be a non-empty string"}
	}

	// Метод по умолчанию — GET
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	cfg.Method = strings.ToUpper(cfg.Method)

	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}

	return cfg, nil
}

// buildClient создаёт HTTP клиент с нужными настройками.
func buildClient(cfg *httpConfig) *http.Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	var checkRedirect func(*http.Request, []*http.Request) error
	if !cfg.FollowRedirects {
		checkRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: checkRedirect,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: !cfg.ValidateSSL,
			},
		},
	}
}

// buildRequest создаёт HTTP запрос.
func buildRequest(ctx context.Context, cfg *httpConfig) (*http.Request, error) {
	var bodyReader io.Reader

	if cfg.Body != nil {
		bodyBytes, err := serializeBody(cfg.Body)
		if err != nil {
			return nil, fmt.Errorf("serialize body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)

		// Content-Type по умолчанию
		if _, ok := cfg.Headers["Content-Type"]; !ok {
			cfg.Headers["Content-Type"] = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, bodyReader)
	if err != nil {
		return nil, err
	}

	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

func serializeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// parseResponse читает ответ в map результата.
func parseResponse(resp *http.Response) (map[string]any, error) {
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &Failure{Code: "http_read", Message: fmt.Sprintf("read response body: %v", err), Err: err}
	}

	var body any
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(bodyBytes, &body); err != nil {
			// Невалидный JSON возвращаем строкой
			body = string(bodyBytes)
		}
	} else {
		body = string(bodyBytes)
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        body,
	}, nil
}
