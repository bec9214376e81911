package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/AnTengye/contractsign/config"
	"github.com/AnTengye/contractsign/model"
)

// APIClient talks to the public, token-scoped MR3X endpoints
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	cache      *ResultCache
}

// envelope is the {data: ...} wrapper every endpoint answers with
type envelope struct {
	Data json.RawMessage `json:"data"`
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// HashRequest is the body of a hash comparison
type HashRequest struct {
	Hash string `json:"hash"`
}

func NewAPIClient(cfg *config.APIConfig, cache *ResultCache) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout(),
		},
		cache: cache,
	}
}

// GetSigningPackage fetches the signing package behind a link token
func (s *APIClient) GetSigningPackage(ctx context.Context, linkToken string) (*model.SigningPackage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint("sign", linkToken), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var pkg model.SigningPackage
	if err := s.do(req, &pkg); err != nil {
		return nil, err
	}
	if pkg.LinkToken == "" {
		pkg.LinkToken = linkToken
	}
	return &pkg, nil
}

// SubmitSignature posts the signed payload for a link token
func (s *APIClient) SubmitSignature(ctx context.Context, linkToken string, sub model.SigningSubmission) (*model.SubmitResult, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint("sign", linkToken, "submit"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result model.SubmitResult
	if err := s.do(req, &result); err != nil {
		return nil, err
	}

	// The contract's verification status just changed.
	if s.cache != nil && result.ContractToken != "" {
		s.cache.Invalidate(result.ContractToken)
	}
	return &result, nil
}

// LookupVerification resolves a document token. Results are cached per
// token and type hint.
func (s *APIClient) LookupVerification(ctx context.Context, token string, docType model.DocumentType) (*model.VerificationResult, error) {
	if s.cache != nil {
		if cached := s.cache.Get(token, docType); cached != nil {
			return cached, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.withType(s.endpoint("verify", "token", token), docType), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var result model.VerificationResult
	if err := s.do(req, &result); err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Put(token, docType, &result)
	}
	return &result, nil
}

// VerifyHash compares a SHA-256 hex digest with the stored one
func (s *APIClient) VerifyHash(ctx context.Context, token string, docType model.DocumentType, hash string) (*model.VerificationResult, error) {
	body, err := json.Marshal(HashRequest{Hash: hash})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.withType(s.endpoint("verify", "token", token, "hash"), docType), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result model.VerificationResult
	if err := s.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// VerifyPDF uploads a PDF so the server can recompute and compare its hash
func (s *APIClient) VerifyPDF(ctx context.Context, token string, docType model.DocumentType, filename string, pdf io.Reader) (*model.VerificationResult, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", "application/pdf")
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, pdf); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.withType(s.endpoint("verify", "token", token, "pdf"), docType), &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result model.VerificationResult
	if err := s.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *APIClient) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, seg := range segments {
		escaped[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/" + strings.Join(escaped, "/")
}

func (s *APIClient) withType(endpoint string, docType model.DocumentType) string {
	if v := docType.QueryValue(); v != "" {
		return endpoint + "?" + url.Values{"type": {v}}.Encode()
	}
	return endpoint
}

// do sends req and decodes the data envelope into out. Non-2xx answers
// become *model.APIError carrying the server's message.
func (s *APIClient) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(body, &eb)
		msg := eb.Message
		if msg == "" {
			msg = eb.Error
		}
		return &model.APIError{Status: resp.StatusCode, Message: msg}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("failed to parse response: empty data")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
