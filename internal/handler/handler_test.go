package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"companion-go/internal/model"
	"companion-go/internal/service"
	"companion-go/pkg/events"
	"companion-go/pkg/token"

	"github.com/gin-gonic/gin"
)

type stubAuth struct {
	service.AuthService
}

func (stubAuth) Authenticate(_ context.Context, tok string) (*model.User, *token.CustomClaims, error) {
	switch tok {
	case "u1":
		return &model.User{ID: "u1"}, &token.CustomClaims{UserID: "u1", SessionID: "s1"}, nil
	case "anon":
		return &model.User{ID: "anon", IsAnonymous: true}, &token.CustomClaims{UserID: "anon"}, nil
	}
	return nil, nil, service.ErrUnauthenticated
}

func (stubAuth) SignUp(_ context.Context, email, _ string) (*events.Session, error) {
	if email == "taken@example.com" {
		return nil, service.ErrEmailTaken
	}
	return &events.Session{UserID: "new", AccessToken: "a", Seq: 1}, nil
}

type stubProfiles struct {
	service.ProfileService
}

func (stubProfiles) Get(_ context.Context, caller *model.User, id string) (*model.UserProfile, error) {
	if caller.ID != id {
		return nil, service.ErrForbidden
	}
	if id == "u1" {
		return nil, service.ErrNotFound
	}
	return &model.UserProfile{ID: id}, nil
}

type stubChat struct {
	err error
}

func (s stubChat) HandleWebhook(_ context.Context, _ *model.User, req service.ChatWebhookRequest) (*service.ChatWebhookResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &service.ChatWebhookResponse{
		Message:        service.ReplyMessage{ID: "m1", Content: "hi!", Sender: model.SenderAI, Timestamp: time.Unix(0, 0).UTC()},
		ConversationID: "c1",
	}, nil
}

type stubCommunity struct {
	service.CommunityService
}

func (stubCommunity) CreatePost(_ context.Context, author *model.User, topic, title, body string) (*model.Post, error) {
	return &model.Post{ID: 1, AuthorID: author.ID, Title: title, Body: body}, nil
}

func newTestEngine(chat service.ChatService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, Services{
		Auth:      stubAuth{},
		Profile:   stubProfiles{},
		Chat:      chat,
		Community: stubCommunity{},
		Hub:       service.NewEventHub(),
	})
	return r
}

func request(r http.Handler, method, path, bearer, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestProfileEndpoints(t *testing.T) {
	r := newTestEngine(stubChat{})

	w := request(r, http.MethodGet, "/rest/v1/profiles/u1", "u1", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing profile, got %d", w.Code)
	}
	var env struct {
		Code int `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil || env.Code != http.StatusNotFound {
		t.Errorf("expected envelope code 404, got %s", w.Body.String())
	}

	if w := request(r, http.MethodGet, "/rest/v1/profiles/u2", "u1", ""); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for foreign profile, got %d", w.Code)
	}
	if w := request(r, http.MethodGet, "/rest/v1/profiles/u1", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
}

func TestChatWebhookEndpoint(t *testing.T) {
	r := newTestEngine(stubChat{})
	w := request(r, http.MethodPost, "/functions/v1/chat-webhook", "u1", `{"chatInput":"hello","userId":"u1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp service.ChatWebhookResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Message.Content != "hi!" || resp.ConversationID != "c1" {
		t.Errorf("unexpected response: %+v", resp)
	}

	failing := newTestEngine(stubChat{err: service.ErrUpstream})
	w = request(failing, http.MethodPost, "/functions/v1/chat-webhook", "u1", `{"chatInput":"hello","userId":"u1"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	var errBody map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &errBody)
	if errBody["error"] == "" {
		t.Errorf("expected error field, got %s", w.Body.String())
	}
}

func TestAuthEndpoints(t *testing.T) {
	r := newTestEngine(stubChat{})

	if w := request(r, http.MethodPost, "/auth/v1/token?grant_type=magic", "", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown grant type, got %d", w.Code)
	}
	if w := request(r, http.MethodPost, "/auth/v1/signup", "", `{"email":"taken@example.com","password":"secret1"}`); w.Code != http.StatusConflict {
		t.Errorf("expected 409 for taken email, got %d", w.Code)
	}
	w := request(r, http.MethodPost, "/auth/v1/signup", "", `{"email":"new@example.com","password":"secret1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var env struct {
		Data events.Session `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Data.UserID != "new" || env.Data.Seq != 1 {
		t.Errorf("unexpected session: %+v", env.Data)
	}
}

func TestCommunityWriteRequiresRegisteredUser(t *testing.T) {
	r := newTestEngine(stubChat{})
	body := `{"title":"hello","body":"world"}`
	if w := request(r, http.MethodPost, "/api/v1/community/posts", "anon", body); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for anonymous author, got %d", w.Code)
	}
	if w := request(r, http.MethodPost, "/api/v1/community/posts", "u1", body); w.Code != http.StatusOK {
		t.Errorf("expected 200 for registered author, got %d", w.Code)
	}
}
