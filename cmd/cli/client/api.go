package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/viper"

	"github.com/dealflow/internal/models"
	"github.com/dealflow/internal/series"
)

type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *APIClient) doRequest(method, path string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := viper.GetString("token"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	return data, nil
}

func (c *APIClient) Login(username, password string) (string, error) {
	data, err := c.doRequest(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return "", err
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (c *APIClient) ListSeries(status string) (*series.Page, error) {
	path := "/api/v1/series"
	if status != "" {
		path += "?status=" + status
	}
	data, err := c.doRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var page series.Page
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *APIClient) GetSeries(id string) (*models.RecurringSeries, error) {
	data, err := c.doRequest(http.MethodGet, "/api/v1/series/"+id, nil)
	if err != nil {
		return nil, err
	}

	var s models.RecurringSeries
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *APIClient) PauseSeries(id string) (*models.RecurringSeries, error) {
	return c.transition(id, "pause")
}

func (c *APIClient) ResumeSeries(id string) (*models.RecurringSeries, error) {
	return c.transition(id, "resume")
}

func (c *APIClient) CancelSeries(id string) error {
	_, err := c.doRequest(http.MethodDelete, "/api/v1/series/"+id, nil)
	return err
}

func (c *APIClient) transition(id, action string) (*models.RecurringSeries, error) {
	data, err := c.doRequest(http.MethodPut, "/api/v1/series/"+id+"/"+action, nil)
	if err != nil {
		return nil, err
	}

	var s models.RecurringSeries
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

type UpcomingResponse struct {
	Series      models.RecurringSeries `json:"series"`
	Occurrences []time.Time            `json:"occurrences"`
}

func (c *APIClient) UpcomingSeries(id string, limit int) (*UpcomingResponse, error) {
	path := fmt.Sprintf("/api/v1/series/%s/upcoming?limit=%d", id, limit)
	data, err := c.doRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp UpcomingResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
