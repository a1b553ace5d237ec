// forumd/handlers/handlers.go

package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"forumd/auth"
	"forumd/config"
	"forumd/database"
	"forumd/export"
	"forumd/models"
	"forumd/utils"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
)

// App is an interface that defines the dependencies our handlers need.
type App interface {
	DB() *database.DatabaseService
	Logger() *slog.Logger
	Settings() *config.Settings
	Storage() models.StorageService
	ReportLimiter() *models.RateLimiter
	LoginLimiter() *models.RateLimiter
	ExportLimiter() *models.RateLimiter
	PendingSecrets() *models.PendingSecretStore
	Exports() *export.Manager
}

// --- Group List Cache ---
var (
	groupListCache []models.MemberGroup
	cacheLock      sync.RWMutex
)

// getGroupList is a cached function to retrieve all membergroups for selects and request pages.
func getGroupList(app App, r *http.Request) []models.MemberGroup {
	cacheLock.RLock()
	if groupListCache != nil {
		cacheLock.RUnlock()
		return groupListCache
	}
	cacheLock.RUnlock()

	cacheLock.Lock()
	defer cacheLock.Unlock()

	if groupListCache != nil {
		return groupListCache
	}

	groups, err := app.DB().GetGroups(r.Context())
	if err != nil {
		app.Logger().Error("Failed to query membergroup list", "error", err)
		return nil
	}
	groupListCache = groups
	return groups
}

// ClearGroupListCache invalidates the global membergroup cache.
func ClearGroupListCache() {
	cacheLock.Lock()
	defer cacheLock.Unlock()
	groupListCache = nil
}

// respondJSON sends a JSON response with a given status code.
func respondJSON(w http.ResponseWriter, status int, payload interface{}, app App) {
	response, err := json.Marshal(payload)
	if err != nil {
		app.Logger().Error("Failed to marshal JSON payload", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		if _, werr := w.Write([]byte(`{"error":"Failed to marshal JSON response"}`)); werr != nil {
			app.Logger().Error("Failed to write internal server error response", "error", werr)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(response); err != nil {
		app.Logger().Error("Failed to write JSON response", "error", err)
	}
}

// MakeHandler adapts an App-aware handler to http.HandlerFunc.
func MakeHandler(app App, fn func(http.ResponseWriter, *http.Request, App)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(w, r, app)
	}
}

// statusForError maps database sentinel errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrAlreadyExists), errors.Is(err, database.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail renders an error page for err and records it in the member error log
// shown by activity tracking. Storage failures are logged at error level.
func fail(w http.ResponseWriter, r *http.Request, app App, logger *slog.Logger, err error, msg string) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		logger.Error(msg, "error", err)
	} else {
		logger.Warn(msg, "error", err)
		msg = err.Error()
	}
	if m := currentMember(r); m != nil {
		app.DB().LogError(r.Context(), m.ID, utils.GetIPAddress(r), r.URL.Path, msg)
	}
	renderError(w, r, app, status, msg)
}

// forbid rejects a request the current member is not allowed to make.
func forbid(w http.ResponseWriter, r *http.Request, app App) {
	if m := currentMember(r); m != nil {
		app.DB().LogError(r.Context(), m.ID, utils.GetIPAddress(r), r.URL.Path, "permission denied")
	}
	renderError(w, r, app, http.StatusForbidden, "You are not allowed to access this section.")
}

// --- Item lists ---

// ListOptions carries the paging and sort state of an item list.
type ListOptions struct {
	Page    int
	PerPage int
	Sort    string
	Desc    bool
}

// parseListOptions reads ?p=, ?sort= and ?desc= from the query. Sort keys outside
// sorts fall back to the first entry, which is sorted descending by default.
func parseListOptions(r *http.Request, perPage int, sorts ...string) ListOptions {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("p"))
	if page < 1 {
		page = 1
	}
	opts := ListOptions{Page: page, PerPage: perPage}
	if len(sorts) == 0 {
		return opts
	}
	sort := q.Get("sort")
	if sort == "" || !lo.Contains(sorts, sort) {
		opts.Sort = sorts[0]
		opts.Desc = q.Get("desc") != "0"
		return opts
	}
	opts.Sort = sort
	opts.Desc = q.Get("desc") == "1"
	return opts
}

// totalPages returns the page count for total items.
func totalPages(total, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return int(math.Ceil(float64(total) / float64(perPage)))
}

// listData returns the common template values for a paginated list.
func listData(opts ListOptions, total int) map[string]interface{} {
	pages := totalPages(total, opts.PerPage)
	return map[string]interface{}{
		"Page":       opts.Page,
		"TotalPages": pages,
		"Total":      total,
		"Sort":       opts.Sort,
		"Desc":       opts.Desc,
		"Pagination": generatePagination(opts.Page, pages),
	}
}

// generatePagination creates the list of page links for the UI.
func generatePagination(currentPage, totalPages int) []models.Page {
	if totalPages <= 1 {
		return nil
	}

	const pagesToShow = 2

	var pages []models.Page

	start := currentPage - pagesToShow
	end := currentPage + pagesToShow

	if start < 1 {
		end += (1 - start)
		start = 1
	}

	if end > totalPages {
		start -= (end - totalPages)
		end = totalPages
	}

	if start < 1 {
		start = 1
	}

	if start > 1 {
		pages = append(pages, models.Page{Number: 1})
		if start > 2 {
			pages = append(pages, models.Page{IsEllipsis: true})
		}
	}

	for i := start; i <= end; i++ {
		pages = append(pages, models.Page{Number: i, IsCurrent: i == currentPage})
	}

	if end < totalPages {
		if end < totalPages-1 {
			pages = append(pages, models.Page{IsEllipsis: true})
		}
		pages = append(pages, models.Page{Number: totalPages})
	}

	return pages
}

// --- Request helpers ---

// formIDs collects ids from repeated name and name[] form fields.
func formIDs(r *http.Request, name string) []int64 {
	if err := r.ParseForm(); err != nil {
		return nil
	}
	return utils.ParseIDs(append(r.Form[name], r.Form[name+"[]"]...))
}

// urlID parses a positive int64 chi URL parameter.
func urlID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

// actor returns the id and display name recorded for the current member's actions.
func actor(r *http.Request) (int64, string) {
	m := currentMember(r)
	if m == nil {
		return 0, ""
	}
	return m.ID, displayName(m)
}

func displayName(m *models.Member) string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Name
}

// requirePerm is shorthand for the common global permission check.
func requirePerm(w http.ResponseWriter, r *http.Request, app App, perms ...string) bool {
	if !currentPerms(r).AllowedTo(perms...) {
		forbid(w, r, app)
		return false
	}
	return true
}

// requireBoards resolves the boards the member may act on for perm, rejecting when none.
func requireBoards(w http.ResponseWriter, r *http.Request, app App, perm string) ([]int64, bool) {
	boards := currentPerms(r).BoardsAllowedTo(perm)
	if len(boards) == 0 {
		forbid(w, r, app)
		return nil, false
	}
	return boards, true
}

// requireMember rejects guests.
func requireMember(w http.ResponseWriter, r *http.Request, app App) (*models.Member, *auth.Permissions, bool) {
	m := currentMember(r)
	if m == nil {
		http.Redirect(w, r, "/login?next="+r.URL.Path, http.StatusSeeOther)
		return nil, nil, false
	}
	return m, currentPerms(r), true
}

// redirectBack sends the member back to the list they acted on, carrying a status message.
func redirectBack(w http.ResponseWriter, r *http.Request, fallback, msg string) {
	target := localPath(r.FormValue("return"), fallback)
	if msg != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + "msg=" + url.QueryEscape(msg)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
