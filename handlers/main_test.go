package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"forumd/config"
	"forumd/database"
	"forumd/export"
	"forumd/models"
	"forumd/utils"

	"golang.org/x/crypto/bcrypt"
)

const testCSRFToken = "test-csrf-token"

// MockApplication holds dependencies for handler tests.
type MockApplication struct {
	db             *database.DatabaseService
	logger         *slog.Logger
	settings       *config.Settings
	storage        *utils.LocalStorage
	reportLimiter  *models.RateLimiter
	loginLimiter   *models.RateLimiter
	exportLimiter  *models.RateLimiter
	pendingSecrets *models.PendingSecretStore
	exports        *export.Manager
}

func (a *MockApplication) DB() *database.DatabaseService              { return a.db }
func (a *MockApplication) Logger() *slog.Logger                       { return a.logger }
func (a *MockApplication) Settings() *config.Settings                 { return a.settings }
func (a *MockApplication) Storage() models.StorageService             { return a.storage }
func (a *MockApplication) ReportLimiter() *models.RateLimiter         { return a.reportLimiter }
func (a *MockApplication) LoginLimiter() *models.RateLimiter          { return a.loginLimiter }
func (a *MockApplication) ExportLimiter() *models.RateLimiter         { return a.exportLimiter }
func (a *MockApplication) PendingSecrets() *models.PendingSecretStore { return a.pendingSecrets }
func (a *MockApplication) Exports() *export.Manager                   { return a.exports }

// setupTestApp creates a full application stack with a test database for integration testing.
func setupTestApp(t *testing.T) *MockApplication {
	t.Helper()
	if err := LoadTemplates(); err != nil {
		t.Fatalf("Failed to load templates: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	dir := t.TempDir()
	dbService, err := database.InitDB(filepath.Join(dir, "test.db?_journal_mode=WAL&_foreign_keys=on"), logger)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}

	settings := config.DefaultSettings()
	settings.BackupDir = filepath.Join(dir, "backups")
	storage := &utils.LocalStorage{Dir: filepath.Join(dir, "uploads"), URLPrefix: "/uploads"}
	exportStorage := &utils.LocalStorage{Dir: filepath.Join(dir, "exports"), URLPrefix: "/exports"}

	app := &MockApplication{
		db:             dbService,
		logger:         logger,
		settings:       settings,
		storage:        storage,
		reportLimiter:  models.NewRateLimiter(30*time.Second, 3, time.Hour, 24*time.Hour),
		loginLimiter:   models.NewRateLimiter(30*time.Second, 5, time.Hour, 24*time.Hour),
		exportLimiter:  models.NewRateLimiter(time.Minute, 2, time.Hour, 24*time.Hour),
		pendingSecrets: models.NewPendingSecretStore(10 * time.Minute),
		exports:        export.NewManager(dbService, exportStorage, logger, 1, 4, settings.ExportRetention()),
	}
	ClearGroupListCache()

	t.Cleanup(func() {
		app.db.DB.Close()
		ClearGroupListCache()
		os.RemoveAll(dir)
	})
	return app
}

// setupServer wraps the router in the same middleware chain as main.
func setupServer(t *testing.T, app *MockApplication) *httptest.Server {
	t.Helper()
	handler := AppContextMiddleware(app, CSRFMiddleware(NewSecurityHeadersMiddleware("")(SetupRouter(app))))
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// createMember inserts a member with the password "password123".
func createMember(t *testing.T, app *MockApplication, name string, groupID int64) *models.Member {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	ctx := context.Background()
	id, err := app.db.CreateMember(ctx, name, name, name+"@example.com", string(hash), groupID)
	if err != nil {
		t.Fatalf("Failed to create member %s: %v", name, err)
	}
	m, err := app.db.GetMember(ctx, id)
	if err != nil {
		t.Fatalf("Failed to load member %s: %v", name, err)
	}
	return m
}

// newClient returns a client that does not follow redirects and carries a
// known CSRF cookie. When member is non-nil it is logged in.
func newClient(t *testing.T, app *MockApplication, server *httptest.Server, member *models.Member) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("Failed to create cookie jar: %v", err)
	}
	u, _ := url.Parse(server.URL)
	cookies := []*http.Cookie{{Name: "csrf_token", Value: testCSRFToken, Path: "/"}}
	if member != nil {
		token, err := app.db.CreateSession(context.Background(), member.ID, "127.0.0.1", time.Hour)
		if err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}
		cookies = append(cookies, &http.Cookie{Name: config.SessionCookieName, Value: token, Path: "/"})
	}
	jar.SetCookies(u, cookies)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// postForm submits values with the CSRF token and returns the response.
func postForm(t *testing.T, client *http.Client, target string, values url.Values) *http.Response {
	t.Helper()
	if values == nil {
		values = url.Values{}
	}
	values.Set("csrf_token", testCSRFToken)
	resp, err := client.PostForm(target, values)
	if err != nil {
		t.Fatalf("POST %s failed: %v", target, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getPage(t *testing.T, client *http.Client, target string) (*http.Response, string) {
	t.Helper()
	resp, err := client.Get(target)
	if err != nil {
		t.Fatalf("GET %s failed: %v", target, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body of %s: %v", target, err)
	}
	return resp, string(body)
}

// expectRedirect checks for a 303 whose Location contains want.
func expectRedirect(t *testing.T, resp *http.Response, want string) string {
	t.Helper()
	if resp.StatusCode != http.StatusSeeOther {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 303, got %d: %s", resp.StatusCode, body)
	}
	loc := resp.Header.Get("Location")
	decoded, _ := url.QueryUnescape(loc)
	if !strings.Contains(decoded, want) {
		t.Fatalf("Expected redirect containing %q, got %q", want, decoded)
	}
	return decoded
}

func createMessage(t *testing.T, app *MockApplication, memberID int64, subject string, approved bool) (msgID, topicID int64) {
	t.Helper()
	msgID, topicID, err := app.db.CreateMessage(context.Background(), database.NewMessage{
		BoardID:  1,
		MemberID: memberID,
		Subject:  subject,
		Body:     "body of " + subject,
		IP:       "10.0.0.5",
		Approved: approved,
	})
	if err != nil {
		t.Fatalf("Failed to create message: %v", err)
	}
	return msgID, topicID
}
