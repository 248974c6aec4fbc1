package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggawoos-bot/chat5M/models"
	"github.com/ggawoos-bot/chat5M/repository"
	"github.com/ggawoos-bot/chat5M/service"
	"github.com/ggawoos-bot/chat5M/storage"
)

func newTestRouter(t *testing.T, keys []string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)

	chunkRepo := repository.NewChunkRepository(store, "missing.json", filepath.Join(dir, "missing"))
	chunkRepo.SetChunks([]models.Chunk{
		{ID: "c1", Content: "금연구역 지정 기준", Metadata: models.ChunkMetadata{Title: "지침"}},
	})

	rpdRepo, err := repository.NewRpdRepository(
		filepath.Join(dir, "rpd.db"), service.KeySpecs(keys, 250))
	require.NoError(t, err)
	t.Cleanup(func() { rpdRepo.Close() })

	keyring := service.NewKeyringService(keys, rpdRepo)
	analyzer := service.NewAnalyzerService(keyring, "gemini-2.5-flash", 1, 0)
	selector := service.NewContextService(chunkRepo, 5)
	chatService := service.NewChatService(keyring, analyzer, selector,
		service.ChatWithRetryPolicy(1, 0))

	handler := NewChatHandler(chatService, keyring, chunkRepo)

	r := gin.New()
	api := r.Group("/api")
	api.POST("/chat", handler.Chat)
	api.GET("/rpd", handler.RpdStats)
	api.GET("/corpus", handler.CorpusStatus)
	api.POST("/corpus/reload", handler.ReloadCorpus)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed))
	return w, parsed
}

func TestChatRejectsMissingMessage(t *testing.T) {
	r := newTestRouter(t, nil)

	w, resp := doJSON(t, r, http.MethodPost, "/api/chat", gin.H{"history": []any{}})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, resp["success"])
	errObj := resp["error"].(map[string]any)
	assert.Equal(t, "INVALID_REQUEST", errObj["code"])
}

func TestChatWithoutKeysReturnsFallbackReply(t *testing.T) {
	r := newTestRouter(t, nil)

	w, resp := doJSON(t, r, http.MethodPost, "/api/chat", gin.H{"message": "금연구역이 무엇인가요?"})

	// No credentials is not an HTTP error; the user gets a canned reply
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])
	data := resp["data"].(map[string]any)
	assert.Equal(t, "현재 서비스 이용이 불가능합니다. 관리자에게 문의해 주세요.", data["reply"])
	assert.NotEmpty(t, data["requestId"])
}

func TestRpdStatsEndpoint(t *testing.T) {
	r := newTestRouter(t, []string{"AIzaTestKeyAAAA00000001"})

	w, resp := doJSON(t, r, http.MethodGet, "/api/rpd", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])
	data := resp["data"].(map[string]any)
	assert.Equal(t, float64(250), data["totalMax"])
	keys := data["apiKeys"].([]any)
	require.Len(t, keys, 1)
	key := keys[0].(map[string]any)
	assert.Equal(t, "key1", key["keyId"])
	assert.NotContains(t, key["maskedKey"], "TestKeyAAAA")
}

func TestCorpusStatusEndpoint(t *testing.T) {
	r := newTestRouter(t, nil)

	w, resp := doJSON(t, r, http.MethodGet, "/api/corpus", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	data := resp["data"].(map[string]any)
	assert.Equal(t, float64(1), data["chunkCount"])
}

func TestReloadCorpusEndpoint(t *testing.T) {
	r := newTestRouter(t, nil)

	w, resp := doJSON(t, r, http.MethodPost, "/api/corpus/reload", nil)

	// Reload falls back to the built-in corpus when no artifact exists
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])
	data := resp["data"].(map[string]any)
	assert.Greater(t, data["chunkCount"], float64(0))
}
