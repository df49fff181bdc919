package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/xuri/excelize/v2"
)

func newTestService(t *testing.T) *app.LiveService {
	t.Helper()
	bus := memory.NewNotifier(nil)
	t.Cleanup(func() { _ = bus.Close() })
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(sampleQuiz()), time.Minute)
	return app.NewLiveService(memory.NewSessionStore(bus), memory.NewProgressStore(bus), quizzes, app.Options{
		Retry: app.RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	})
}

func newTestServer(t *testing.T, svc *app.LiveService) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	server := httptest.NewServer(NewRouter(svc, nil))
	t.Cleanup(server.Close)
	return server
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Quick check",
		Questions: []domain.Question{
			{ID: "q1", Text: "What is 2 + 2?", Options: []string{"3", "4", "5", "6"}, CorrectOptionIndex: 1, TimeLimitSeconds: 30},
			{ID: "q2", Text: "Which is a primary colour?", Options: []string{"Green", "Purple", "Red", "Orange"}, CorrectOptionIndex: 2, TimeLimitSeconds: 30},
		},
	}
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestSessionControlSurface(t *testing.T) {
	svc := newTestService(t)
	server := newTestServer(t, svc)
	base := server.URL + "/api/sessions"

	resp, created := doJSON(t, http.MethodPost, base, map[string]string{"quizId": "quiz-1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d body %v", resp.StatusCode, created)
	}
	id, _ := created["id"].(string)
	if id == "" || created["liveStatus"] != "idle" {
		t.Fatalf("unexpected created session: %v", created)
	}

	resp, body := doJSON(t, http.MethodPost, base, map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("create without quiz: status %d body %v", resp.StatusCode, body)
	}
	resp, body = doJSON(t, http.MethodPost, base, map[string]string{"quizId": "nope"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("create with unknown quiz: status %d body %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, base+"/"+id+"/start", nil)
	if resp.StatusCode != http.StatusConflict || errorCode(body) != "invalid_transition" {
		t.Fatalf("start from idle: status %d body %v", resp.StatusCode, body)
	}

	for _, cmd := range []string{"enable", "enable", "start"} {
		resp, body = doJSON(t, http.MethodPost, base+"/"+id+"/"+cmd, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d body %v", cmd, resp.StatusCode, body)
		}
	}
	if body["liveStatus"] != "active" || body["round"] != float64(1) {
		t.Fatalf("unexpected session after start: %v", body)
	}

	resp, body = doJSON(t, http.MethodPost, base+"/"+id+"/rewind", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown command: status %d body %v", resp.StatusCode, body)
	}
	resp, body = doJSON(t, http.MethodGet, base+"/missing", nil)
	if resp.StatusCode != http.StatusNotFound || errorCode(body) != "session_not_found" {
		t.Fatalf("missing session: status %d body %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodDelete, base+"/"+id+"/results", nil)
	if resp.StatusCode != http.StatusBadRequest || errorCode(body) != "confirmation_required" {
		t.Fatalf("clear without confirm: status %d body %v", resp.StatusCode, body)
	}
	resp, body = doJSON(t, http.MethodDelete, base+"/"+id+"/results?confirm=true", nil)
	if resp.StatusCode != http.StatusOK || body["deleted"] != float64(0) {
		t.Fatalf("clear: status %d body %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, base+"/"+id+"/results", nil)
	if resp.StatusCode != http.StatusOK || body["liveStatus"] != "active" {
		t.Fatalf("results: status %d body %v", resp.StatusCode, body)
	}
}

func TestResultsExport(t *testing.T) {
	svc := newTestService(t)
	server := newTestServer(t, svc)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	student, err := svc.Join(ctx, session.AccessCode, "Alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	defer student.Close()
	if err := student.AwaitStart(ctx); err != nil {
		t.Fatalf("await start: %v", err)
	}
	if err := student.AnswerCurrent(1); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if _, err := student.SubmitAndAdvance(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}

	resp, err := http.Get(server.URL + "/api/sessions/" + session.ID + "/results.xlsx")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), session.AccessCode) {
		t.Fatalf("unexpected disposition %q", resp.Header.Get("Content-Disposition"))
	}

	f, err := excelize.OpenReader(resp.Body)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(summarySheet)
	if err != nil {
		t.Fatalf("read results: %v", err)
	}
	if len(rows) != 2 || rows[0][0] != "Rank" || rows[1][1] != "Alice" || rows[1][3] != "1/2" {
		t.Fatalf("unexpected summary rows: %v", rows)
	}
	answers, err := f.GetRows(answersSheet)
	if err != nil {
		t.Fatalf("read answers: %v", err)
	}
	if len(answers) != 2 || answers[1][2] != "4" || answers[1][4] != "TRUE" {
		t.Fatalf("unexpected answer rows: %v", answers)
	}
}

func TestStudentWebSocketPlaysLiveRound(t *testing.T) {
	svc := newTestService(t)
	server := newTestServer(t, svc)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := svc.EnableLive(ctx, session.ID); err != nil {
		t.Fatalf("enable: %v", err)
	}

	conn := dial(t, server, "/ws/student?code="+strings.ToLower(session.AccessCode)+"&name=Alice")
	expect(t, conn, msgJoined)
	expect(t, conn, msgWaiting)

	if _, err := svc.Start(ctx, session.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	expect(t, conn, msgStarted)

	question, raw := readMessage(t, conn)
	if question != msgQuestion {
		t.Fatalf("expected question, got %s", question)
	}
	if strings.Contains(string(raw), "correctOptionIndex") {
		t.Fatalf("question payload leaks the answer: %s", raw)
	}

	send(t, conn, "select", map[string]int{"optionIndex": 1})
	send(t, conn, "submit", nil)
	result := expect(t, conn, msgAnswerResult)
	if result["correct"] != true || result["score"] != float64(1) || result["power"] != float64(60) {
		t.Fatalf("unexpected first answer result: %v", result)
	}

	expect(t, conn, msgQuestion)
	send(t, conn, "select", map[string]int{"optionIndex": 9})
	expect(t, conn, msgError)
	send(t, conn, "select", map[string]int{"optionIndex": 0})
	send(t, conn, "submit", nil)
	result = expect(t, conn, msgAnswerResult)
	if result["correct"] != false || result["power"] != float64(55) {
		t.Fatalf("unexpected second answer result: %v", result)
	}

	done := expect(t, conn, msgCompleted)
	if done["score"] != float64(1) || done["totalQuestions"] != float64(2) {
		t.Fatalf("unexpected completion: %v", done)
	}
}

func TestStudentWebSocketTerminatedByDisable(t *testing.T) {
	svc := newTestService(t)
	server := newTestServer(t, svc)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := svc.EnableLive(ctx, session.ID); err != nil {
		t.Fatalf("enable: %v", err)
	}

	conn := dial(t, server, "/ws/student?code="+session.AccessCode+"&name=Bob")
	expect(t, conn, msgJoined)
	expect(t, conn, msgWaiting)

	if _, err := svc.DisableLive(ctx, session.ID); err != nil {
		t.Fatalf("disable: %v", err)
	}
	expect(t, conn, msgTerminated)
}

func TestStudentWebSocketRejectsUnknownCode(t *testing.T) {
	server := newTestServer(t, newTestService(t))

	conn := dial(t, server, "/ws/student?code=ZZZZZZ&name=Eve")
	payload := expect(t, conn, msgError)
	if payload["code"] != "session_not_found" {
		t.Fatalf("unexpected error payload: %v", payload)
	}
}

func TestTeacherWebSocketStreamsRaceAndControls(t *testing.T) {
	svc := newTestService(t)
	server := newTestServer(t, svc)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := svc.EnableLive(ctx, session.ID); err != nil {
		t.Fatalf("enable: %v", err)
	}

	conn := dial(t, server, "/ws/teacher?sessionId="+session.ID)
	initial := expect(t, conn, msgRace)
	if initial["liveStatus"] != "waiting" || initial["joined"] != float64(0) {
		t.Fatalf("unexpected initial race view: %v", initial)
	}

	student, err := svc.Join(ctx, session.AccessCode, "Alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	defer student.Close()
	waitFor(t, conn, msgRace, func(p map[string]any) bool { return p["joined"] == float64(1) })

	send(t, conn, "command", map[string]string{"command": "start"})
	ack := waitFor(t, conn, msgAck, func(map[string]any) bool { return true })
	if ack["command"] != "start" {
		t.Fatalf("unexpected ack: %v", ack)
	}
	waitFor(t, conn, msgRace, func(p map[string]any) bool { return p["liveStatus"] == "active" })

	send(t, conn, "command", map[string]string{"command": "enable"})
	waitFor(t, conn, msgError, func(p map[string]any) bool { return p["code"] == "invalid_transition" })

	send(t, conn, "clear", map[string]bool{"confirm": true, "force": true})
	ack = waitFor(t, conn, msgAck, func(map[string]any) bool { return true })
	if ack["deleted"] != float64(1) {
		t.Fatalf("unexpected clear ack: %v", ack)
	}
}

func TestTeacherWebSocketUnknownSession(t *testing.T) {
	server := newTestServer(t, newTestService(t))

	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/teacher?sessionId=missing"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %+v", resp)
	}
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func dial(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	msg := map[string]any{"type": typ}
	if payload != nil {
		msg["payload"] = payload
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg.Type, msg.Payload
}

func expect(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	got, raw := readMessage(t, conn)
	if got != typ {
		t.Fatalf("expected %s, got %s (%s)", typ, got, raw)
	}
	payload := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &payload)
	}
	return payload
}

// waitFor skips messages until one of type typ satisfies match.
func waitFor(t *testing.T, conn *websocket.Conn, typ string, match func(map[string]any) bool) map[string]any {
	t.Helper()
	for i := 0; i < 50; i++ {
		got, raw := readMessage(t, conn)
		if got != typ {
			continue
		}
		payload := map[string]any{}
		_ = json.Unmarshal(raw, &payload)
		if match(payload) {
			return payload
		}
	}
	t.Fatalf("no %s message matched", typ)
	return nil
}
