// Package keycloak is a narrow client for the Keycloak admin REST API covering
// users, organizations, organization membership and organization roles.
package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Config holds the admin connection settings.
type Config struct {
	BaseURL       string // e.g. http://keycloak:8080
	Realm         string // realm that owns tenant users and organizations
	AdminUser     string // master realm administrator
	AdminPassword string
	ClientID      string        // defaults to admin-cli
	Timeout       time.Duration // per HTTP call; defaults to 10s
}

// APIError is a non-2xx admin API response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("keycloak: status %d: %s", e.StatusCode, e.Message)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 admin API response.
func IsNotFound(err error) bool { return StatusCode(err) == http.StatusNotFound }

// IsConflict reports whether err is a 409 admin API response.
func IsConflict(err error) bool { return StatusCode(err) == http.StatusConflict }

// User is the subset of UserRepresentation used here.
type User struct {
	ID            string       `json:"id,omitempty"`
	Username      string       `json:"username,omitempty"`
	Email         string       `json:"email,omitempty"`
	FirstName     string       `json:"firstName,omitempty"`
	LastName      string       `json:"lastName,omitempty"`
	Enabled       bool         `json:"enabled"`
	EmailVerified bool         `json:"emailVerified"`
	Credentials   []Credential `json:"credentials,omitempty"`
}

// Credential is a password credential.
type Credential struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

// Organization is the subset of OrganizationRepresentation used here.
type Organization struct {
	ID      string               `json:"id,omitempty"`
	Name    string               `json:"name"`
	Alias   string               `json:"alias,omitempty"`
	Enabled bool                 `json:"enabled"`
	Domains []OrganizationDomain `json:"domains,omitempty"`
}

// OrganizationDomain is a domain attached to an organization.
type OrganizationDomain struct {
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
}

// Role is an organization role.
type Role struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Client talks to the admin API. Every call obtains a fresh admin token.
type Client struct {
	cfg   Config
	http  *http.Client
	oauth *oauth2.Config
}

// New constructs a Client; httpClient may be nil.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("keycloak base url is required")
	}
	if strings.TrimSpace(cfg.Realm) == "" {
		return nil, errors.New("keycloak realm is required")
	}
	if cfg.AdminUser == "" || cfg.AdminPassword == "" {
		return nil, errors.New("keycloak admin credentials are required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "admin-cli"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		cfg:  cfg,
		http: httpClient,
		oauth: &oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.BaseURL + "/realms/master/protocol/openid-connect/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}, nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := c.oauth.PasswordCredentialsToken(ctx, c.cfg.AdminUser, c.cfg.AdminPassword)
	if err != nil {
		return "", fmt.Errorf("keycloak admin token: %w", err)
	}
	return tok.AccessToken, nil
}

func (c *Client) adminURL(segments ...string) string {
	escaped := make([]string, 0, len(segments)+3)
	escaped = append(escaped, "admin", "realms", url.PathEscape(c.cfg.Realm))
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	return c.cfg.BaseURL + "/" + path.Join(escaped...)
}

// do performs one authenticated call. out may be nil. The response Location header is returned.
func (c *Client) do(ctx context.Context, method, target string, body any, out any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	token, err := c.token(ctx)
	if err != nil {
		return "", err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.Header.Get("Location"), nil
}

// errorMessage extracts errorMessage/error fields from an error body, falling back to the raw text.
func errorMessage(raw []byte) string {
	var body struct {
		ErrorMessage     string `json:"errorMessage"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		switch {
		case body.ErrorMessage != "":
			return body.ErrorMessage
		case body.ErrorDescription != "":
			return body.ErrorDescription
		case body.Error != "":
			return body.Error
		}
	}
	return strings.TrimSpace(string(raw))
}

func idFromLocation(location string) string {
	location = strings.TrimRight(location, "/")
	if i := strings.LastIndex(location, "/"); i >= 0 {
		return location[i+1:]
	}
	return location
}

// CreateUser creates an enabled user with a permanent password and returns its ID.
func (c *Client) CreateUser(ctx context.Context, u User, password string) (string, error) {
	u.Enabled = true
	if u.Username == "" {
		u.Username = u.Email
	}
	if password != "" {
		u.Credentials = []Credential{{Type: "password", Value: password}}
	}

	location, err := c.do(ctx, http.MethodPost, c.adminURL("users"), u, nil)
	if err != nil {
		return "", err
	}
	if id := idFromLocation(location); id != "" {
		return id, nil
	}

	// Older servers omit Location; look the user up by exact email.
	var found []User
	q := url.Values{"email": {u.Email}, "exact": {"true"}}
	if _, err := c.do(ctx, http.MethodGet, c.adminURL("users")+"?"+q.Encode(), nil, &found); err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "", fmt.Errorf("keycloak: created user %s not found", u.Email)
	}
	return found[0].ID, nil
}

// GetUser fetches a user by ID.
func (c *Client) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	_, err := c.do(ctx, http.MethodGet, c.adminURL("users", id), nil, &u)
	return u, err
}

// DeleteUser removes a user by ID.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, c.adminURL("users", id), nil, nil)
	return err
}

// CreateOrganization creates an enabled organization and returns its ID.
func (c *Client) CreateOrganization(ctx context.Context, org Organization) (string, error) {
	org.Enabled = true
	location, err := c.do(ctx, http.MethodPost, c.adminURL("organizations"), org, nil)
	if err != nil {
		return "", err
	}
	if id := idFromLocation(location); id != "" {
		return id, nil
	}

	var found []Organization
	q := url.Values{"search": {org.Alias}, "exact": {"true"}}
	if _, err := c.do(ctx, http.MethodGet, c.adminURL("organizations")+"?"+q.Encode(), nil, &found); err != nil {
		return "", err
	}
	for _, o := range found {
		if o.Alias == org.Alias {
			return o.ID, nil
		}
	}
	return "", fmt.Errorf("keycloak: created organization %s not found", org.Alias)
}

// DeleteOrganization removes an organization by ID.
func (c *Client) DeleteOrganization(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, c.adminURL("organizations", id), nil, nil)
	return err
}

// AddOrganizationMember binds an existing user to an organization.
func (c *Client) AddOrganizationMember(ctx context.Context, orgID, userID string) error {
	// The members endpoint takes the bare user ID as a JSON string.
	_, err := c.do(ctx, http.MethodPost, c.adminURL("organizations", orgID, "members"), userID, nil)
	return err
}

// AssignOrganizationRole grants the named organization role to a member.
func (c *Client) AssignOrganizationRole(ctx context.Context, orgID, userID, roleName string) error {
	var roles []Role
	if _, err := c.do(ctx, http.MethodGet, c.adminURL("organizations", orgID, "roles"), nil, &roles); err != nil {
		return err
	}
	for _, r := range roles {
		if r.Name == roleName {
			_, err := c.do(ctx, http.MethodPost, c.adminURL("organizations", orgID, "members", userID, "roles"), []Role{r}, nil)
			return err
		}
	}
	return &APIError{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("role %q not found in organization", roleName)}
}
