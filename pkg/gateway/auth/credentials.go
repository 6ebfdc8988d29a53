package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/theroutercompany/quiz_gateway/pkg/gateway/identity"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/problem"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/trust"
)

// ValidateCredentialsPath is the user service operation that checks a
// username/password pair.
const ValidateCredentialsPath = "/validate_credentials"

// maxCredentialReply bounds how much of the backend reply is read.
const maxCredentialReply = 1 << 20

// CredentialChecker verifies login credentials against the user service.
type CredentialChecker interface {
	CheckCredentials(ctx context.Context, form url.Values) (identity.UserInfo, error)
}

// UserServiceClient calls the user service's credential check.
type UserServiceClient struct {
	client  *http.Client
	baseURL string
	service string
	secret  string
}

// NewUserServiceClient constructs a checker for service reachable at baseURL.
func NewUserServiceClient(client *http.Client, baseURL, service, secret string) *UserServiceClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &UserServiceClient{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		service: service,
		secret:  secret,
	}
}

// CheckCredentials relays form to the user service. A non-200 reply is a
// credential failure carrying the backend's own error text.
func (c *UserServiceClient) CheckCredentials(ctx context.Context, form url.Values) (identity.UserInfo, error) {
	target := c.baseURL + "/" + c.service + ValidateCredentialsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return identity.UserInfo{}, problem.Wrap(problem.KindCredential, "Login error", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(trust.HeaderName, c.secret)

	resp, err := c.client.Do(req)
	if err != nil {
		return identity.UserInfo{}, problem.Wrap(problem.KindCredential, "Login error", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCredentialReply))
	if err != nil {
		return identity.UserInfo{}, problem.Wrap(problem.KindCredential, "Login error", err)
	}

	if resp.StatusCode != http.StatusOK {
		pe := problem.New(problem.KindCredential, "Cannot log in", fmt.Sprintf("user service answered %d", resp.StatusCode))
		pe.Raw = body
		return identity.UserInfo{}, pe
	}

	info, err := identity.DecodeUserInfo(body)
	if err != nil {
		return identity.UserInfo{}, problem.Wrap(problem.KindCredential, "Login error", err)
	}
	return info, nil
}

// Service combines credential checks with token issuance.
type Service struct {
	issuer  *Issuer
	checker CredentialChecker
}

// NewService wires an issuer to a credential checker.
func NewService(issuer *Issuer, checker CredentialChecker) *Service {
	return &Service{issuer: issuer, checker: checker}
}

// Issuer exposes the underlying token issuer.
func (s *Service) Issuer() *Issuer {
	return s.issuer
}

// Login checks credentials and returns the user record with a fresh token.
// No token is produced when the check fails.
func (s *Service) Login(ctx context.Context, form url.Values) (identity.UserInfo, error) {
	info, err := s.checker.CheckCredentials(ctx, form)
	if err != nil {
		return identity.UserInfo{}, err
	}

	token, err := s.issuer.IssueLogin(info.Identity())
	if err != nil {
		return identity.UserInfo{}, problem.Wrap(problem.KindCredential, "Login error", err)
	}
	info.Token = token.Value
	return info, nil
}
