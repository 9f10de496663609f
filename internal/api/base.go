package api

import (
	"net/http"
)

// HTTPClient is the subset of *http.Client the endpoint functions need.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
