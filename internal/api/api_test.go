package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/jukezispilled/lockd/internal/access"
	"github.com/jukezispilled/lockd/internal/apperr"
	"github.com/jukezispilled/lockd/internal/domain"
	"github.com/jukezispilled/lockd/internal/media"
	"github.com/jukezispilled/lockd/internal/middleware"
	"github.com/jukezispilled/lockd/internal/videoroom"
	"github.com/jukezispilled/lockd/internal/ws"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

var nop = zap.NewNop().Sugar()

type fixture struct {
	app      *fiber.App
	chats    *fakeChats
	messages *fakeMessages
	oracle   *balances
	passes   *access.PassIssuer
	images   *fakeImages
	rooms    *fakeRooms
	uploader *fakeUploader
}

func gatedChat(amount float64) *domain.Chat {
	return &domain.Chat{ID: primitive.NewObjectID(), Name: "Abc Community", TokenMint: "MintABC", RequiredAmount: &amount}
}

func newFixture(t *testing.T, mutate func(*Deps), chats ...*domain.Chat) *fixture {
	t.Helper()
	f := &fixture{
		chats:    newFakeChats(chats...),
		messages: &fakeMessages{},
		oracle:   &balances{m: map[string]float64{"rich": 150, "poor": 99}},
		passes:   access.NewPassIssuer("test-secret", time.Minute),
		images:   &fakeImages{},
		rooms:    &fakeRooms{configured: true},
		uploader: &fakeUploader{},
	}
	d := Deps{
		Chats:     f.chats,
		Messages:  f.messages,
		Evaluator: access.NewEvaluator(f.oracle, time.Second, nop),
		Passes:    f.passes,
		Images:    f.images,
		Rooms:     f.rooms,
		Uploader:  f.uploader,
	}
	if mutate != nil {
		mutate(&d)
	}
	f.app = NewServer(d, nop)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, header map[string]string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, b
}

func decode(t *testing.T, b []byte) map[string]any {
	t.Helper()
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(b, &out), string(b))
	return out
}

func TestCreateChat(t *testing.T) {
	f := newFixture(t, nil)

	status, body := f.do(t, http.MethodPost, "/chats",
		`{"tokenName":"Abc","tokenSymbol":"ABC","tokenMint":"MintABC","creatorPublicKey":"W1","requiredAmount":100}`, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	out := decode(t, body)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "Abc Community", out["chatName"])
	chatID := out["chatId"].(string)
	assert.True(t, primitive.IsValidObjectID(chatID))

	status, body = f.do(t, http.MethodPost, "/api/chat/create",
		`{"tokenName":"Abc","tokenSymbol":"ABC","tokenMint":"MintABC","creatorWallet":"W2"}`, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, chatID, decode(t, body)["chatId"])
	assert.Equal(t, "W1", f.chats.chats[chatID].CreatorWallet)
}

func TestCreateChat_Invalid(t *testing.T) {
	f := newFixture(t, nil)

	status, body := f.do(t, http.MethodPost, "/chats", `{"tokenName":"Abc"}`, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, decode(t, body)["error"])

	status, _ = f.do(t, http.MethodPost, "/chats", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestListChats(t *testing.T) {
	f := newFixture(t, nil)
	status, body := f.do(t, http.MethodGet, "/chats", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(body))

	f.chats.err = apperr.Persistence("failed to fetch group chats", errDown)
	status, body = f.do(t, http.MethodGet, "/chats", "", nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "failed to fetch group chats", decode(t, body)["error"])
}

func TestGetChat(t *testing.T) {
	chat := gatedChat(100)
	f := newFixture(t, nil, chat)

	status, body := f.do(t, http.MethodGet, "/chats/"+chat.ID.Hex(), "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "MintABC", decode(t, body)["tokenMint"])

	status, _ = f.do(t, http.MethodGet, "/chats/"+primitive.NewObjectID().Hex(), "", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(t, http.MethodGet, "/chats/not-an-id", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestListMessages_PagingDefaults(t *testing.T) {
	chat := gatedChat(100)
	f := newFixture(t, nil, chat)

	status, body := f.do(t, http.MethodGet, "/chats/"+chat.ID.Hex()+"/messages?limit=abc&skip=-3", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"messages":[]}`, string(body))
	assert.Equal(t, int64(50), f.messages.limit)
	assert.Equal(t, int64(0), f.messages.skip)

	f.do(t, http.MethodGet, "/chats/"+chat.ID.Hex()+"/messages?limit=10&skip=20", "", nil)
	assert.Equal(t, int64(10), f.messages.limit)
	assert.Equal(t, int64(20), f.messages.skip)
}

func TestSendMessage(t *testing.T) {
	chat := gatedChat(100)
	f := newFixture(t, nil, chat)

	status, body := f.do(t, http.MethodPost, "/chats/"+chat.ID.Hex()+"/messages",
		`{"content":"gm","senderPublicKey":"rich"}`, map[string]string{"X-Access-Pass": "tok"})
	require.Equal(t, http.StatusCreated, status, string(body))
	out := decode(t, body)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "gm", out["message"].(map[string]any)["content"])

	require.Len(t, f.messages.sent, 1)
	assert.Equal(t, "rich", f.messages.sent[0].SenderWallet)
	assert.Equal(t, "tok", f.messages.sent[0].AccessPass)
	assert.Equal(t, chat.ID.Hex(), f.messages.sent[0].ChatID)
}

func TestSendMessage_Denied(t *testing.T) {
	chat := gatedChat(100)
	f := newFixture(t, nil, chat)
	f.messages.err = apperr.AccessDenied("need 100 tokens, you have 99")

	status, body := f.do(t, http.MethodPost, "/chats/"+chat.ID.Hex()+"/messages", `{"content":"gm","senderWallet":"poor"}`, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "need 100 tokens, you have 99", decode(t, body)["error"])
}

func TestSendMessage_RateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	limiter := middleware.NewWindowLimiter(rdb, "lockd", 1, time.Minute, nop)

	chat := gatedChat(100)
	f := newFixture(t, func(d *Deps) { d.SendLimiter = limiter.MiddlewareByKey(middleware.SendKey) }, chat)
	path := "/chats/" + chat.ID.Hex() + "/messages"

	status, _ := f.do(t, http.MethodPost, path, `{"content":"a","senderWallet":"rich"}`, nil)
	assert.Equal(t, http.StatusCreated, status)
	status, body := f.do(t, http.MethodPost, path, `{"content":"b","senderWallet":"rich"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate limit exceeded", decode(t, body)["error"])
	assert.Len(t, f.messages.sent, 1)
}

func TestCheckAccess(t *testing.T) {
	chat := gatedChat(100)
	f := newFixture(t, nil, chat)
	path := "/chats/" + chat.ID.Hex() + "/access?wallet="

	status, body := f.do(t, http.MethodGet, path+"rich", "", nil)
	require.Equal(t, http.StatusOK, status)
	out := decode(t, body)
	assert.Equal(t, true, out["hasAccess"])
	assert.Equal(t, 150.0, out["balance"])
	assert.Equal(t, 100.0, out["required"])
	pass, _ := out["accessPass"].(string)
	require.NotEmpty(t, pass)
	assert.NotEmpty(t, out["expiresAt"])
	assert.NoError(t, f.passes.Verify(pass, chat.ID.Hex(), "rich"))

	_, body = f.do(t, http.MethodGet, path+"poor", "", nil)
	out = decode(t, body)
	assert.Equal(t, false, out["hasAccess"])
	assert.Equal(t, "INSUFFICIENT_BALANCE", out["reason"])
	assert.Equal(t, "need 100 tokens, you have 99", out["message"])
	assert.NotContains(t, out, "accessPass")

	_, body = f.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, "WALLET_NOT_CONNECTED", decode(t, body)["reason"])
}

func TestCheckAccess_UngatedHasNoPass(t *testing.T) {
	chat := &domain.Chat{ID: primitive.NewObjectID(), TokenMint: "MintABC"}
	f := newFixture(t, nil, chat)

	_, body := f.do(t, http.MethodGet, "/chats/"+chat.ID.Hex()+"/access?wallet=anyone", "", nil)
	out := decode(t, body)
	assert.Equal(t, true, out["hasAccess"])
	assert.NotContains(t, out, "accessPass")
}

func TestVerifyToken(t *testing.T) {
	f := newFixture(t, nil)

	status, body := f.do(t, http.MethodPost, "/verify-token", `{"walletAddress":"rich","tokenMint":"MintABC","requiredAmount":100}`, nil)
	require.Equal(t, http.StatusOK, status)
	out := decode(t, body)
	assert.Equal(t, true, out["hasAccess"])
	assert.Equal(t, 150.0, out["balance"])
	assert.Equal(t, 100.0, out["required"])
	assert.Equal(t, "MintABC", out["tokenMint"])
	assert.Equal(t, "rich", out["walletAddress"])

	_, body = f.do(t, http.MethodPost, "/verify-token", `{"walletAddress":"poor","tokenMint":"MintABC","requiredAmount":100}`, nil)
	assert.Equal(t, false, decode(t, body)["hasAccess"])

	// a zero threshold grants but still reports the balance
	status, body = f.do(t, http.MethodPost, "/verify-token", `{"walletAddress":"poor","tokenMint":"MintABC","requiredAmount":0}`, nil)
	require.Equal(t, http.StatusOK, status)
	out = decode(t, body)
	assert.Equal(t, true, out["hasAccess"])
	assert.Equal(t, 99.0, out["balance"])
	assert.Equal(t, 0.0, out["required"])

	status, body = f.do(t, http.MethodPost, "/verify-token", `{"walletAddress":"rich","tokenMint":"MintABC"}`, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Missing required parameters", decode(t, body)["error"])
}

func TestVerifyToken_OracleDown(t *testing.T) {
	f := newFixture(t, nil)
	f.oracle.err = errDown

	status, body := f.do(t, http.MethodPost, "/verify-token", `{"walletAddress":"rich","tokenMint":"MintABC","requiredAmount":100}`, nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.JSONEq(t, `{"error":"Token verification failed","hasAccess":false,"balance":0}`, string(body))
}

func TestTokenImages(t *testing.T) {
	f := newFixture(t, nil)

	status, body := f.do(t, http.MethodPost, "/token-image", `{"mintAddress":"M1"}`, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"M1":"https://img/M1"}`, string(body))

	status, body = f.do(t, http.MethodPost, "/token-image", `{"mintAddress":["M1","M2"]}`, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"M1":"https://img/M1","M2":null}`, string(body))
	assert.Equal(t, []string{"M1", "M2"}, f.images.got)

	for _, bad := range []string{`{"mintAddress":42}`, `{}`, `{"mintAddress":null}`} {
		status, _ = f.do(t, http.MethodPost, "/token-image", bad, nil)
		assert.Equal(t, http.StatusBadRequest, status, bad)
	}
}

func TestTokenMetadata(t *testing.T) {
	f := newFixture(t, nil)

	status, body := f.do(t, http.MethodGet, "/tokens/MintABC", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ABC", decode(t, body)["symbol"])

	status, _ = f.do(t, http.MethodGet, "/tokens/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestVideoRoom(t *testing.T) {
	chat := gatedChat(100)
	f := newFixture(t, nil, chat)
	path := "/video-room/" + chat.ID.Hex()

	status, body := f.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, status)
	out := decode(t, body)
	assert.Equal(t, "chat-"+chat.ID.Hex(), out["roomName"])
	assert.Equal(t, 50.0, out["config"].(map[string]any)["max_participants"])

	status, body = f.do(t, http.MethodPost, path, "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, decode(t, body)["isExisting"])

	status, body = f.do(t, http.MethodPut, path, `{"properties":{"enable_chat":false}}`, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, decode(t, body)["success"])

	status, _ = f.do(t, http.MethodPut, path, `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = f.do(t, http.MethodDelete, path, "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Room deleted successfully", decode(t, body)["message"])
	assert.Equal(t, []string{chat.ID.Hex()}, f.rooms.deleted)
}

func TestVideoRoom_Errors(t *testing.T) {
	chat := gatedChat(100)
	f := newFixture(t, nil, chat)

	status, _ := f.do(t, http.MethodGet, "/video-room/"+primitive.NewObjectID().Hex(), "", nil)
	assert.Equal(t, http.StatusNotFound, status)

	f.rooms.err = &videoroom.APIError{Status: http.StatusNotFound, Body: `{"error":"not-found"}`}
	status, body := f.do(t, http.MethodGet, "/video-room/"+chat.ID.Hex(), "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	out := decode(t, body)
	assert.Equal(t, "Room not found", out["error"])
	assert.Equal(t, `{"error":"not-found"}`, out["dailyApiError"])

	f.rooms.configured = false
	status, body = f.do(t, http.MethodPost, "/video-room/"+chat.ID.Hex(), "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "Daily API key not configured", decode(t, body)["error"])
}

func multipartBody(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("name", "Abc"))
	fw, err := w.CreateFormFile("file", "logo.png")
	require.NoError(t, err)
	_, err = fw.Write([]byte("\x89PNG\r\n\x1a\nfake"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestUploadMetadata(t *testing.T) {
	f := newFixture(t, nil)

	buf, ct := multipartBody(t)
	req := httptest.NewRequest(http.MethodPost, "/upload-metadata", buf)
	req.Header.Set("Content-Type", ct)
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NotNil(t, f.uploader.form)
	assert.Equal(t, []string{"Abc"}, f.uploader.form.Values["name"])
	require.Len(t, f.uploader.form.Files, 1)
	assert.Equal(t, "logo.png", f.uploader.form.Files[0].Filename)
	assert.Equal(t, "file", f.uploader.form.Files[0].Field)

	f.uploader.err = &media.UpstreamError{Status: http.StatusBadGateway, Body: "pinning failed"}
	buf, ct = multipartBody(t)
	req = httptest.NewRequest(http.MethodPost, "/upload-metadata", buf)
	req.Header.Set("Content-Type", ct)
	resp, err = f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "IPFS upload failed: pinning failed", decode(t, b)["error"])

	status, _ := f.do(t, http.MethodPost, "/upload-metadata", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHealthAndReady(t *testing.T) {
	healthy := true
	f := newFixture(t, func(d *Deps) {
		d.Ready = map[string]Checker{"mongo": func(context.Context) error {
			if healthy {
				return nil
			}
			return errDown
		}}
	})

	status, _ := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, body := f.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "up", decode(t, body)["checks"].(map[string]any)["mongo"])

	healthy = false
	status, body = f.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "down", decode(t, body)["checks"].(map[string]any)["mongo"])

	status, _ = f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, nil)
	status, body := f.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.NotEmpty(t, decode(t, body)["error"])
}

func TestStreamRoute_IPRateLimited(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chat := gatedChat(100)
	limiter := middleware.NewIPRateLimiter(ctx, 1, 1, nop)
	f := newFixture(t, func(d *Deps) {
		d.IPLimiter = limiter.Handler()
		d.Stream = ws.NewHandler(ctx, ws.NewHub(nil, "lockd", nop), d.Chats, d.Evaluator, nop)
	}, chat)
	path := "/ws/chats/" + chat.ID.Hex()

	status, _ := f.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusUpgradeRequired, status)
	status, body := f.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.NotEmpty(t, decode(t, body)["error"])
}
