package generation_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veronikaextra/backend/internal/config"
	"github.com/veronikaextra/backend/internal/generation"
)

func genConfig(baseURL, modelID string) config.Config {
	return config.Config{
		GenAPIKey:  "gen-key",
		GenBaseURL: baseURL,
		GenModelID: modelID,
	}
}

func TestRunSendsPromptAndSeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models/v2/provider-4/imagen-3.5", r.URL.Path)
		require.Equal(t, "Key gen-key", r.Header.Get("Authorization"))

		var payload struct {
			Input  string `json:"input"`
			Params struct {
				Seed int64 `json:"seed"`
			} `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "a red fox", payload.Input)
		require.Equal(t, int64(42), payload.Params.Seed)

		_, _ = w.Write([]byte(`{"output":"https://cdn.example.com/fox.png"}`))
	}))
	defer srv.Close()

	client := generation.NewClient(genConfig(srv.URL, "provider-4/imagen-3.5"), srv.Client(), nil)
	out, err := client.Run(context.Background(), "a red fox", 42)
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/fox.png", out.URL)
	require.Empty(t, out.Bytes)
}

func TestRunDecodesBase64Output(t *testing.T) {
	raw := []byte{0x89, 0x50, 0x4e, 0x47}
	encoded := base64.StdEncoding.EncodeToString(raw)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output":"` + encoded + `"}`))
	}))
	defer srv.Close()

	client := generation.NewClient(genConfig(srv.URL, "m"), srv.Client(), nil)
	out, err := client.Run(context.Background(), "a red fox", 1)
	require.NoError(t, err)
	require.Equal(t, raw, out.Bytes)
	require.Empty(t, out.URL)
}

func TestRunFallsBackToNextModel(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/models/v2/provider-9/gone" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"output":"https://cdn.example.com/fox.png"}`))
	}))
	defer srv.Close()

	client := generation.NewClient(genConfig(srv.URL, "provider-9/gone"), srv.Client(), nil)
	out, err := client.Run(context.Background(), "a red fox", 1)
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/fox.png", out.URL)
	require.Equal(t, []string{
		"/models/v2/provider-9/gone",
		"/models/v2/provider-4/imagen-3.5",
	}, paths, "a missing model moves to the next candidate; other candidates stay untried")
}

func TestRunAllModelsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := generation.NewClient(genConfig(srv.URL, "provider-9/gone"), srv.Client(), nil)
	_, err := client.Run(context.Background(), "a red fox", 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no usable generation model")
}

func TestRunAuthFailureIsFinal(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid key"}`))
	}))
	defer srv.Close()

	client := generation.NewClient(genConfig(srv.URL, "provider-9/gone"), srv.Client(), nil)
	_, err := client.Run(context.Background(), "a red fox", 1)
	require.ErrorIs(t, err, generation.ErrUnauthorized)
	require.Equal(t, 1, calls, "a bad key must not be retried against other models")
}

func TestRunRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := generation.NewClient(genConfig(srv.URL, "m"), srv.Client(), nil)
	_, err := client.Run(context.Background(), "a red fox", 1)
	require.ErrorIs(t, err, generation.ErrRateLimited)
}

func TestRunMapsAuthHintInErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"Unauthorized model access for this account"}`))
	}))
	defer srv.Close()

	client := generation.NewClient(genConfig(srv.URL, "m"), srv.Client(), nil)
	_, err := client.Run(context.Background(), "a red fox", 1)
	require.ErrorIs(t, err, generation.ErrUnauthorized)
}

func TestRunMissingAPIKey(t *testing.T) {
	cfg := genConfig("https://api.example.com", "m")
	cfg.GenAPIKey = ""
	client := generation.NewClient(cfg, http.DefaultClient, nil)
	_, err := client.Run(context.Background(), "a red fox", 1)
	require.Error(t, err)
}
