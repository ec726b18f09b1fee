/**
 * @description
 * Client for the Veriff identity verification API. It only creates sessions; the
 * outcome arrives later through the webhook.
 */
package veriffclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrMissingFields is returned when the person lacks data Veriff requires.
var ErrMissingFields = errors.New("required verification fields are empty")

// Person is the data submitted to Veriff for a satellite.
type Person struct {
	SatelliteID int64
	FirstName   string
	LastName    string
	PhoneNumber string
	DateOfBirth *time.Time
	Email       string
	FullAddress string
}

// MissingFields lists the Veriff field names that are empty, in a stable order.
func (p Person) MissingFields() []string {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	check("firstName", p.FirstName)
	check("lastName", p.LastName)
	check("phoneNumber", p.PhoneNumber)
	if p.DateOfBirth == nil {
		missing = append(missing, "dateOfBirth")
	}
	check("email", p.Email)
	check("fullAddress", p.FullAddress)
	return missing
}

// MissingFieldsError carries the names of the empty fields.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("please fill in the following fields: %s", strings.Join(e.Fields, ", "))
}

func (e *MissingFieldsError) Unwrap() error { return ErrMissingFields }

type sessionRequest struct {
	Verification struct {
		Callback string `json:"callback"`
		Person   struct {
			FirstName   string `json:"firstName"`
			LastName    string `json:"lastName"`
			PhoneNumber string `json:"phoneNumber"`
			DateOfBirth string `json:"dateOfBirth"`
			Email       string `json:"email"`
		} `json:"person"`
		Address struct {
			FullAddress string `json:"fullAddress"`
		} `json:"address"`
		VendorData string `json:"vendorData"`
	} `json:"verification"`
}

type sessionResponse struct {
	Status       string `json:"status"`
	Verification struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	} `json:"verification"`
}

// Client talks to the Veriff station API.
type Client struct {
	baseURL     string
	apiKey      string
	callbackURL string
	httpClient  *http.Client
}

// NewClient creates a Veriff client. callbackURL is where Veriff sends the user
// once the flow finishes.
func NewClient(baseURL, apiKey, callbackURL string) *Client {
	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiKey:      apiKey,
		callbackURL: callbackURL,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateSession starts a verification session and returns the URL the user has
// to open. lang is appended as a query parameter when set.
func (c *Client) CreateSession(ctx context.Context, p Person, lang string) (string, error) {
	if c.baseURL == "" || c.apiKey == "" {
		return "", fmt.Errorf("veriff client is not configured")
	}
	if missing := p.MissingFields(); len(missing) > 0 {
		return "", &MissingFieldsError{Fields: missing}
	}

	var payload sessionRequest
	payload.Verification.Callback = c.callbackURL
	payload.Verification.Person.FirstName = p.FirstName
	payload.Verification.Person.LastName = p.LastName
	payload.Verification.Person.PhoneNumber = p.PhoneNumber
	payload.Verification.Person.DateOfBirth = p.DateOfBirth.Format("2006-01-02")
	payload.Verification.Person.Email = p.Email
	payload.Verification.Address.FullAddress = p.FullAddress
	payload.Verification.VendorData = strconv.FormatInt(p.SatelliteID, 10)

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-AUTH-CLIENT", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request to veriff: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("veriff returned error status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode veriff response: %w", err)
	}
	if out.Verification.URL == "" {
		return "", fmt.Errorf("veriff response has no session url")
	}
	return withLang(out.Verification.URL, lang)
}

func withLang(sessionURL, lang string) (string, error) {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return sessionURL, nil
	}
	u, err := url.Parse(sessionURL)
	if err != nil {
		return "", fmt.Errorf("invalid session url: %w", err)
	}
	q := u.Query()
	q.Set("lang", lang)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
