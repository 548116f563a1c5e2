package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"storefront-personalization/internal/core/catalog"
	"storefront-personalization/internal/core/like"
	"storefront-personalization/internal/core/recommend"
	"storefront-personalization/internal/core/session"
	"storefront-personalization/internal/infrastructure/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

type testEnv struct {
	router     *gin.Engine
	dispatcher *like.Dispatcher
	registry   *like.Registry
	state      *like.State
	redis      *miniredis.Miniredis
	failLikes  *atomic.Bool
	likeCalls  *atomic.Int32

	// gatePopular 為 true 時熱門推薦通知 popularEntered 後等待 popularGate
	gatePopular    atomic.Bool
	popularGate    chan struct{}
	popularEntered chan struct{}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		failLikes:      &atomic.Bool{},
		likeCalls:      &atomic.Int32{},
		popularGate:    make(chan struct{}),
		popularEntered: make(chan struct{}, 1),
	}
	failLikes, likeCalls := env.failLikes, env.likeCalls
	mux := http.NewServeMux()
	mux.HandleFunc("/recommend/skin-type", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"s1","name":"Barrier Cream","brand":"Acme","price":32,"rating":4.6},{"id":"s2","name":"Gel Toner"}]}`))
	})
	mux.HandleFunc("/recommend/category", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/recommend/popular", func(w http.ResponseWriter, r *http.Request) {
		if env.gatePopular.Load() {
			env.popularEntered <- struct{}{}
			<-env.popularGate
		}
		_, _ = w.Write([]byte(`[{"productId":1,"productName":"Sun Fluid"},{"productId":2,"productName":"Lip Balm"}]`))
	})
	mux.HandleFunc("/likes/exists/batch", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"s1":true}`))
	})
	mux.HandleFunc("/likes", func(w http.ResponseWriter, r *http.Request) {
		likeCalls.Add(1)
		if failLikes.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	backend := httptest.NewServer(mux)
	t.Cleanup(backend.Close)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg := &config.Config{
		App:         config.AppConfig{Debug: true, Version: "test"},
		Backend:     config.BackendConfig{BaseURL: backend.URL, Timeout: 2 * time.Second},
		DedupWindow: time.Minute,
	}

	client := catalog.NewClient(cfg.Backend)
	store := session.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), config.RedisConfig{RecentCap: 10})
	state := like.NewState()
	registry := like.NewRegistry(state, client, like.NewNotifier(), 2)
	dispatcher := like.NewDispatcher(config.LikeConfig{Workers: 1, QueueSize: 8, MutationTimeout: time.Second})
	t.Cleanup(dispatcher.Close)

	router, err := SetupRouter(cfg, Deps{
		Resolver:   recommend.NewResolver(client, nil, 4),
		Views:      recommend.NewViews(),
		Sessions:   store,
		Redis:      store,
		Likes:      registry,
		Dispatcher: dispatcher,
	})
	if err != nil {
		t.Fatalf("SetupRouter() error = %v", err)
	}
	env.router, env.dispatcher, env.registry, env.state, env.redis = router, dispatcher, registry, state, mr
	return env
}

func (e *testEnv) do(t *testing.T, method, path, sessionID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("X-Session-ID", sessionID)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

type cardJSON struct {
	ID    *string `json:"id"`
	Name  string  `json:"name"`
	Liked bool    `json:"liked"`
}

type recommendationsJSON struct {
	Strategy string     `json:"strategy"`
	Empty    bool       `json:"empty"`
	Cards    []cardJSON `json:"cards"`
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/health", "/ready", "/live", "/metrics"} {
		if w := env.do(t, http.MethodGet, path, "", nil); w.Code != http.StatusOK {
			t.Errorf("%s status = %d, body %s", path, w.Code, w.Body.String())
		}
	}
}

func TestRecommendationsRequireSession(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/recommendations", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "INVALID_REQUEST") {
		t.Errorf("body = %s", w.Body.String())
	}

	if w := env.do(t, http.MethodGet, "/api/v1/recommendations?count=0", "s1", nil); w.Code != http.StatusBadRequest {
		t.Errorf("count=0 status = %d", w.Code)
	}
}

func TestAnonymousRecommendationsFallBackToPopular(t *testing.T) {
	env := newTestEnv(t)

	// 最近瀏覽的分類沒有結果
	if w := env.do(t, http.MethodPost, "/api/v1/sessions/views", "sess", map[string]string{"productId": "v1", "category": "toner"}); w.Code != http.StatusNoContent {
		t.Fatalf("record view status = %d, body %s", w.Code, w.Body.String())
	}

	w := env.do(t, http.MethodGet, "/api/v1/recommendations", "sess", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var got recommendationsJSON
	decode(t, w, &got)

	if got.Strategy != "popular" || got.Empty {
		t.Errorf("strategy = %s empty = %v", got.Strategy, got.Empty)
	}
	if len(got.Cards) != 4 {
		t.Fatalf("cards = %d, want 4", len(got.Cards))
	}
	if got.Cards[0].ID == nil || *got.Cards[0].ID != "1" || got.Cards[2].ID != nil || got.Cards[3].ID != nil {
		t.Errorf("unexpected cards %s", w.Body.String())
	}

	// 匿名使用者不能切換收藏
	if w := env.do(t, http.MethodPost, "/api/v1/likes/1/toggle", "sess", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous toggle status = %d", w.Code)
	}
	if env.likeCalls.Load() != 0 {
		t.Error("anonymous toggle reached the backend")
	}
}

func TestSignedInFlow(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/api/v1/sessions/profile", "sess", map[string]string{"userId": "u1", "skinType": "dry"})
	if w.Code != http.StatusOK {
		t.Fatalf("profile status = %d, body %s", w.Code, w.Body.String())
	}
	if w := env.do(t, http.MethodPut, "/api/v1/sessions/profile", "sess", map[string]string{"skinType": "scaly"}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid skin type status = %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/v1/recommendations?count=3", "sess", nil)
	var got recommendationsJSON
	decode(t, w, &got)
	if got.Strategy != "skin_type" || len(got.Cards) != 3 {
		t.Fatalf("recommendations = %s", w.Body.String())
	}
	if !got.Cards[0].Liked || got.Cards[1].Liked {
		t.Errorf("like state not attached: %s", w.Body.String())
	}

	// 切換立即回傳樂觀狀態
	w = env.do(t, http.MethodPost, "/api/v1/likes/s2/toggle", "sess", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("toggle status = %d, body %s", w.Code, w.Body.String())
	}
	var toggled struct {
		Liked bool `json:"liked"`
	}
	decode(t, w, &toggled)
	if !toggled.Liked {
		t.Error("optimistic state should be liked")
	}

	if w := env.do(t, http.MethodPost, "/api/v1/likes/unknown/toggle", "sess", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown product status = %d", w.Code)
	}

	env.dispatcher.Close()

	w = env.do(t, http.MethodGet, "/api/v1/likes", "sess", nil)
	var likes struct {
		States        map[string]like.Entry `json:"states"`
		Notifications []like.Notification   `json:"notifications"`
	}
	decode(t, w, &likes)
	if s := likes.States["s2"]; !s.Liked || s.Pending {
		t.Errorf("s2 state = %+v", s)
	}
	if len(likes.Notifications) != 0 {
		t.Errorf("unexpected notifications %v", likes.Notifications)
	}
}

func TestFailedToggleRollsBackWithNotification(t *testing.T) {
	env := newTestEnv(t)
	env.failLikes.Store(true)

	_ = env.do(t, http.MethodPut, "/api/v1/sessions/profile", "sess", map[string]string{"userId": "u1"})
	w := env.do(t, http.MethodPost, "/api/v1/likes/visible", "sess", map[string][]string{"productIds": {"s1", "p9"}})
	if w.Code != http.StatusOK {
		t.Fatalf("visible status = %d, body %s", w.Code, w.Body.String())
	}

	if w := env.do(t, http.MethodPost, "/api/v1/likes/p9/toggle", "sess", nil); w.Code != http.StatusAccepted {
		t.Fatalf("toggle status = %d", w.Code)
	}
	env.dispatcher.Close()

	w = env.do(t, http.MethodGet, "/api/v1/likes", "sess", nil)
	var likes struct {
		States        map[string]like.Entry `json:"states"`
		Notifications []like.Notification   `json:"notifications"`
	}
	decode(t, w, &likes)
	if s := likes.States["p9"]; s.Liked || s.Pending {
		t.Errorf("p9 should be rolled back, got %+v", s)
	}
	if !likes.States["s1"].Liked {
		t.Errorf("s1 should stay liked")
	}
	if len(likes.Notifications) != 1 || likes.Notifications[0].ProductID != "p9" {
		t.Errorf("notifications = %+v", likes.Notifications)
	}

	if w := env.do(t, http.MethodDelete, "/api/v1/likes/visible", "sess", nil); w.Code != http.StatusNoContent {
		t.Errorf("hide status = %d", w.Code)
	}
}

func TestClassifyEndpoint(t *testing.T) {
	env := newTestEnv(t)

	_ = env.do(t, http.MethodPut, "/api/v1/sessions/profile", "sess", map[string]string{"userId": "u1"})
	if w := env.do(t, http.MethodPut, "/api/v1/sessions/favorites", "sess", map[string][]string{"favorites": {"glycerin"}}); w.Code != http.StatusNoContent {
		t.Fatalf("favorites status = %d, body %s", w.Code, w.Body.String())
	}

	body := map[string]interface{}{
		"ingredients": []map[string]interface{}{
			{"id": "1", "name": "Fragrance", "isAllergen": true},
			{"id": "2", "name": "Retinol", "isCautionListed": true},
			{"id": "3", "name": "Glycerin"},
			{"id": "4", "name": "Water"},
		},
	}
	w := env.do(t, http.MethodPost, "/api/v1/ingredients/classify", "sess", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var got struct {
		Functional     []json.RawMessage `json:"functional"`
		Avoid          []json.RawMessage `json:"avoid"`
		NeutralCount   int               `json:"neutralCount"`
		TotalCount     int               `json:"totalCount"`
		AllergenStatus string            `json:"allergenStatus"`
		CautionStatus  string            `json:"cautionStatus"`
	}
	decode(t, w, &got)
	if len(got.Functional) != 1 || len(got.Avoid) != 2 || got.NeutralCount != 1 || got.TotalCount != 4 {
		t.Errorf("classification = %s", w.Body.String())
	}
	if got.AllergenStatus != "warning" || got.CautionStatus != "warning" {
		t.Errorf("statuses = %s/%s", got.AllergenStatus, got.CautionStatus)
	}

	// 明確提供空收藏時不讀取工作階段
	body["favorites"] = []string{}
	w = env.do(t, http.MethodPost, "/api/v1/ingredients/classify", "sess", body)
	decode(t, w, &got)
	if len(got.Functional) != 0 || got.NeutralCount != 2 {
		t.Errorf("explicit favorites ignored: %s", w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/api/v1/ingredients/classify", "", map[string]interface{}{"ingredients": nil})
	decode(t, w, &got)
	if got.TotalCount != 0 || got.AllergenStatus != "safe" {
		t.Errorf("empty classification = %s", w.Body.String())
	}
}

func TestRecordViewDeduplicated(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]string{"productId": "p1", "category": "serum"}

	if w := env.do(t, http.MethodPost, "/api/v1/sessions/views", "sess", body); w.Code != http.StatusNoContent {
		t.Fatalf("first status = %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/sessions/views", "sess", body); w.Code != http.StatusTooManyRequests {
		t.Errorf("duplicate status = %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/sessions/views", "other", body); w.Code != http.StatusNoContent {
		t.Errorf("other session status = %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/sessions/views", "sess", map[string]string{"category": "serum"}); w.Code != http.StatusBadRequest {
		t.Errorf("missing product id status = %d", w.Code)
	}

	w := env.do(t, http.MethodGet, "/api/v1/sessions", "sess", nil)
	var got struct {
		RecentlyViewed []recommend.ViewedItem `json:"recentlyViewed"`
	}
	decode(t, w, &got)
	if len(got.RecentlyViewed) != 1 || got.RecentlyViewed[0].ProductID != "p1" {
		t.Errorf("session = %s", w.Body.String())
	}
}

func TestUnmountDiscardsInFlightRecommendations(t *testing.T) {
	env := newTestEnv(t)
	env.gatePopular.Store(true)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- env.do(t, http.MethodGet, "/api/v1/recommendations", "sess", nil)
	}()
	<-env.popularEntered

	if w := env.do(t, http.MethodDelete, "/api/v1/likes/visible", "sess", nil); w.Code != http.StatusNoContent {
		t.Fatalf("unmount status = %d", w.Code)
	}
	close(env.popularGate)

	w := <-done
	if w.Code != http.StatusGone || !strings.Contains(w.Body.String(), "STALE_VIEW") {
		t.Fatalf("in-flight result status = %d, body %s", w.Code, w.Body.String())
	}
	if env.registry.Len() != 0 || env.state.Len() != 0 {
		t.Fatalf("unmounted view came back: views=%d entries=%d", env.registry.Len(), env.state.Len())
	}

	// 重新掛載的面板正常運作
	env.gatePopular.Store(false)
	if w := env.do(t, http.MethodGet, "/api/v1/recommendations", "sess", nil); w.Code != http.StatusOK {
		t.Fatalf("remount status = %d, body %s", w.Code, w.Body.String())
	}
	if env.registry.Len() != 1 {
		t.Errorf("views = %d after remount", env.registry.Len())
	}
}

func TestSessionStoreOutageKeepsSignedInLikes(t *testing.T) {
	env := newTestEnv(t)

	_ = env.do(t, http.MethodPut, "/api/v1/sessions/profile", "sess", map[string]string{"userId": "u1", "skinType": "dry"})
	if w := env.do(t, http.MethodGet, "/api/v1/recommendations", "sess", nil); w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	env.redis.Close()

	w := env.do(t, http.MethodGet, "/api/v1/recommendations", "sess", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("degraded status = %d, body %s", w.Code, w.Body.String())
	}
	var got recommendationsJSON
	decode(t, w, &got)
	if got.Strategy != "popular" {
		t.Errorf("strategy = %s, want popular for the degraded context", got.Strategy)
	}

	coord, ok := env.registry.Get("sess:main")
	if !ok || coord.UserID() != "u1" {
		t.Fatal("signed-in coordinator was replaced during the outage")
	}
	if s, ok := coord.Get("s1"); !ok || !s.Liked {
		t.Errorf("s1 state = %+v, %v", s, ok)
	}
}
