package xcompile

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultServer hosts the online XCompiler.
	DefaultServer = "uwterminalx.lairdtech.com"

	// MaxFileSize bounds downloaded application files (exclusive).
	MaxFileSize = 131072
)

// FirmwareState is the verdict of a latest firmware check.
type FirmwareState int

const (
	FirmwareOutdated    FirmwareState = 1
	FirmwareCurrent     FirmwareState = 2
	FirmwareTest        FirmwareState = 3
	FirmwareUnsupported FirmwareState = 99
)

// FirmwareStatus is the result of CheckLatestFirmware. Latest is only set
// when the module is outdated.
type FirmwareStatus struct {
	State  FirmwareState
	Latest string
}

// Client talks to the online XCompiler service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for server, using https when useSSL is set.
func NewClient(server string, useSSL bool) *Client {
	if server == "" {
		server = DefaultServer
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return NewClientAt(scheme + "://" + server)
}

// NewClientAt creates a client rooted at an explicit base URL.
func NewClientAt(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// serviceResponse is the JSON body every service endpoint replies with.
type serviceResponse struct {
	Result      flexString `json:"Result"`
	ID          flexString `json:"ID"`
	Error       string     `json:"Error"`
	Description string     `json:"Description"`
	Firmware    string     `json:"Firmware"`
}

// flexString accepts both JSON strings and numbers.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

// CheckSupport asks whether the service can compile for a module with the
// given name and XCompiler hash pair. It returns the compiler ID to pass to
// Compile.
func (c *Client) CheckSupport(ctx context.Context, device, hashA, hashB string) (string, error) {
	u, err := c.endpoint("supported.php", url.Values{
		"Dev":   {device},
		"HashA": {hashA},
		"HashB": {hashB},
	})
	if err != nil {
		return "", err
	}

	status, body, err := c.do(ctx, http.MethodGet, u, "", nil)
	if err != nil {
		return "", err
	}

	var r serviceResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return "", &Error{Kind: KindJSON, Status: status, Err: err}
	}

	switch status {
	case http.StatusServiceUnavailable:
		if r.Result == "-3" {
			return "", &Error{Kind: KindUnsupported, Status: status, Detail: "Your device and/or firmware are not supported."}
		}
		return "", &Error{Kind: KindUnsupported, Status: status, Detail: r.Error}
	case http.StatusOK:
		if r.Result == "1" {
			return string(r.ID), nil
		}
	}
	return "", &Error{Kind: KindUnknown, Status: status}
}

// Compile submits source for compilation with the compiler selected by
// CheckSupport and returns the compiled application.
func (c *Client) Compile(ctx context.Context, id string, source []byte) ([]byte, error) {
	u, err := c.endpoint("xcompile.php", nil)
	if err != nil {
		return nil, err
	}

	var form bytes.Buffer
	w := multipart.NewWriter(&form)
	if err := w.WriteField("file_XComp", id); err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	part, err := w.CreateFormFile("file_sB", "test.sb")
	if err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := part.Write(source); err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}

	status, body, err := c.do(ctx, http.MethodPost, u, w.FormDataContentType(), &form)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		return body, nil
	case http.StatusServiceUnavailable:
		var r serviceResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, &Error{Kind: KindJSON, Status: status, Err: err}
		}
		if r.Result == "-9" {
			return nil, &Error{
				Kind:   KindXCompile,
				Status: status,
				Detail: fmt.Sprintf("Failed to compile %s; %s\r\n%s", r.Result, r.Error, r.Description),
			}
		}
		return nil, &Error{
			Kind:   KindServer,
			Status: status,
			Detail: fmt.Sprintf("Server responded with error code %s; %s", r.Result, r.Error),
		}
	default:
		return nil, &Error{Kind: KindHTTPStatus, Status: status, Detail: string(body)}
	}
}

// CheckLatestFirmware compares a module's firmware with the newest release
// known to the service.
func (c *Client) CheckLatestFirmware(ctx context.Context, device, version string) (FirmwareStatus, error) {
	u, err := c.endpoint("latest_firmware.php", url.Values{
		"Dev": {device},
		"FW":  {version},
	})
	if err != nil {
		return FirmwareStatus{}, err
	}

	status, body, err := c.do(ctx, http.MethodGet, u, "", nil)
	if err != nil {
		return FirmwareStatus{}, err
	}

	switch status {
	case http.StatusOK:
		var r serviceResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return FirmwareStatus{}, &Error{Kind: KindJSON, Status: status, Err: err}
		}
		n, _ := strconv.Atoi(string(r.Result))
		switch FirmwareState(n) {
		case FirmwareOutdated:
			return FirmwareStatus{State: FirmwareOutdated, Latest: r.Firmware}, nil
		case FirmwareCurrent, FirmwareTest:
			return FirmwareStatus{State: FirmwareState(n)}, nil
		}
		return FirmwareStatus{State: FirmwareUnsupported}, nil
	case http.StatusServiceUnavailable:
		return FirmwareStatus{}, &Error{Kind: KindJSON, Status: status}
	default:
		return FirmwareStatus{}, &Error{Kind: KindHTTPStatus, Status: status, Detail: string(body)}
	}
}

// Download fetches an application file from an arbitrary URL.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &Error{Kind: KindGeneral, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &Error{Kind: KindGeneral, Detail: fmt.Sprintf("unsupported URL scheme %q", u.Scheme)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &Error{Kind: KindGeneral, Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: KindHTTPStatus, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFileSize+1))
	if err != nil {
		return nil, transportError(err)
	}
	if len(data) == 0 || len(data) >= MaxFileSize {
		return nil, &Error{Kind: KindFileSize, Status: resp.StatusCode}
	}
	return data, nil
}

func (c *Client) endpoint(name string, params url.Values) (string, error) {
	u, err := url.Parse(c.baseURL + "/" + name)
	if err != nil {
		return "", &Error{Kind: KindGeneral, Err: err}
	}
	q := u.Query()
	q.Set("JSON", "1")
	for k, v := range params {
		for _, s := range v {
			q.Add(k, s)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, method, u, contentType string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, nil, &Error{Kind: KindGeneral, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, transportError(err)
	}
	return resp.StatusCode, data, nil
}

// transportError classifies a failure below HTTP.
func transportError(err error) error {
	var (
		verifyErr    *tls.CertificateVerificationError
		authorityErr x509.UnknownAuthorityError
		hostErr      x509.HostnameError
		invalidErr   x509.CertificateInvalidError
	)
	if errors.As(err, &verifyErr) || errors.As(err, &authorityErr) ||
		errors.As(err, &hostErr) || errors.As(err, &invalidErr) {
		return &Error{Kind: KindSSLCert, Err: err}
	}
	return &Error{Kind: KindGeneral, Detail: err.Error(), Err: err}
}
