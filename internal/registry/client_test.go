package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentuity/go-common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memflow/memflowup/internal/merr"
	"github.com/memflow/memflowup/internal/util"
)

type mockLogger struct{}

func (m *mockLogger) Debug(format string, args ...interface{}) {}
func (m *mockLogger) Info(format string, args ...interface{})  {}
func (m *mockLogger) Warn(format string, args ...interface{})  {}
func (m *mockLogger) Error(format string, args ...interface{}) {}
func (m *mockLogger) Fatal(format string, args ...interface{}) {}
func (m *mockLogger) Trace(format string, args ...interface{}) {}
func (m *mockLogger) SetLevel(level string)                    {}
func (m *mockLogger) GetLevel() string                         { return "info" }
func (m *mockLogger) WithField(key string, value interface{}) logger.Logger {
	return m
}
func (m *mockLogger) WithFields(fields map[string]interface{}) logger.Logger {
	return m
}
func (m *mockLogger) WithError(err error) logger.Logger {
	return m
}
func (m *mockLogger) Stack(logger logger.Logger) logger.Logger {
	return m
}
func (m *mockLogger) With(fields map[string]interface{}) logger.Logger {
	return m
}
func (m *mockLogger) WithContext(ctx context.Context) logger.Logger {
	return m
}
func (m *mockLogger) WithPrefix(prefix string) logger.Logger {
	return m
}

func testVariant(name, version string, pluginVersion int, data []byte, created time.Time) Variant {
	return Variant{
		Digest:    util.Sha256Hex(data),
		Signature: "00",
		CreatedAt: Timestamp{created},
		Descriptor: Descriptor{
			FileType:      CurrentFileType(),
			Architecture:  CurrentArchitecture(),
			PluginVersion: pluginVersion,
			Name:          name,
			Version:       version,
		},
	}
}

func TestClientPlugins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/plugins", r.URL.Path)
		json.NewEncoder(w).Encode(pluginsAllResponse{Plugins: []PluginName{
			{Name: "memflow-win32", Description: "win32 OS layer"},
			{Name: "memflow-qemu", Description: "qemu connector"},
		}})
	}))
	defer server.Close()

	client := NewClient(&mockLogger{}, server.URL)
	plugins, err := client.Plugins(context.Background())
	require.NoError(t, err)
	require.Len(t, plugins, 2)
	assert.Equal(t, "memflow-win32", plugins[0].Name)
}

func TestClientFindByUri(t *testing.T) {
	data := []byte("plugin bytes")
	variant := testVariant("memflow-win32", "0.2.0", PluginVersion, data, time.Now())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/plugins/memflow-win32", r.URL.Path)
		query := r.URL.Query()
		assert.Equal(t, string(CurrentFileType()), query.Get("file_type"))
		assert.Equal(t, string(CurrentArchitecture()), query.Get("architecture"))
		assert.Equal(t, "1", query.Get("limit"))
		// "latest" must not be forwarded as a version filter
		assert.Empty(t, query.Get("version"))
		json.NewEncoder(w).Encode(pluginsFindResponse{Plugins: []Variant{variant}})
	}))
	defer server.Close()

	client := NewClient(&mockLogger{}, server.URL)
	uri, err := ParseUri("memflow-win32", "")
	require.NoError(t, err)

	found, err := client.FindByUri(context.Background(), uri)
	require.NoError(t, err)
	assert.Equal(t, variant.Digest, found.Digest)
	assert.Equal(t, "0.2.0", found.Descriptor.Version)
}

func TestClientFindByUriNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(pluginsFindResponse{})
	}))
	defer server.Close()

	client := NewClient(&mockLogger{}, server.URL)
	uri, err := ParseUri("memflow-nonexistent", "")
	require.NoError(t, err)

	_, err = client.FindByUri(context.Background(), uri)
	require.Error(t, err)
	assert.ErrorIs(t, err, merr.ErrNotFound)
}

func TestClientDownloadDigestRoundTrip(t *testing.T) {
	data := []byte("the plugin binary")
	variant := testVariant("memflow-win32", "0.2.0", PluginVersion, data, time.Now())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/"+variant.Digest, r.URL.Path)
		w.Write(data)
	}))
	defer server.Close()

	client := NewClient(&mockLogger{}, server.URL)
	got, err := client.Download(context.Background(), variant)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, variant.Digest, util.Sha256Hex(got))
}

func TestClientRegistryErrorMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"message": "token does not own this plugin"})
	}))
	defer server.Close()

	client := NewClient(&mockLogger{}, server.URL)
	err := client.Delete(context.Background(), "token", "abc123")
	require.Error(t, err)
	assert.ErrorIs(t, err, merr.ErrRegistry)
	assert.Contains(t, err.Error(), "token does not own this plugin")
}

func TestClientDeleteSendsBearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(&mockLogger{}, server.URL)
	require.NoError(t, client.Delete(context.Background(), "secret", "abc123"))
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestNewClientNormalizesBaseURL(t *testing.T) {
	client := NewClient(&mockLogger{}, "registry.example.io/")
	assert.Equal(t, "https://registry.example.io", client.baseURL)

	client = NewClient(&mockLogger{}, "")
	assert.Equal(t, DefaultRegistry, client.baseURL)
}
