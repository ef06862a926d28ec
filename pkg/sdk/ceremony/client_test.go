package ceremony

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-openapi/swag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clrfund/setup-mpc-ui/internal/types"
)

func TestClientJoinCeremony(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/ceremonies/cer-1/join", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(&types.JoinCeremonyResponse{
			CeremonyID:   swag.String("cer-1"),
			QueueIndex:   swag.Int64(7),
			PriorIndex:   swag.Int64(5),
			CurrentIndex: swag.Int64(4),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	res, err := c.JoinCeremony(context.Background(), "cer-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), swag.Int64Value(res.QueueIndex))
	assert.Equal(t, int64(4), swag.Int64Value(res.CurrentIndex))
}

func TestClientListCeremoniesWithStateFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/ceremonies", r.URL.Path)
		assert.Equal(t, "RUNNING", r.URL.Query().Get("state"))

		_ = json.NewEncoder(w).Encode(&types.CeremonyListResponse{
			Ceremonies: []*types.CeremonyResponse{
				{ID: swag.String("cer-1"), State: swag.String("RUNNING")},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	res, err := c.ListCeremonies(context.Background(), "RUNNING")
	require.NoError(t, err)
	require.Len(t, res.Ceremonies, 1)
	assert.Equal(t, "cer-1", swag.StringValue(res.Ceremonies[0].ID))
}

func TestClientSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": 404,
			"type":   "generic",
			"title":  "Ceremony not found",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.GetCeremony(context.Background(), "nope")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "Ceremony not found", apiErr.Title)
}

func TestClientAcknowledgeEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/events/ev-1/ack", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	require.NoError(t, c.AcknowledgeEvent(context.Background(), "ev-1"))
}
