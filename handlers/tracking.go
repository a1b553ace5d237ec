// forumd/handlers/tracking.go
package handlers

import (
	"net/http"
	"strings"

	"forumd/auth"
	"forumd/config"
	"forumd/database"
	"forumd/models"
	"forumd/utils"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// HandleTracking shows a member's activity: addresses, errors, profile edits and logins.
func HandleTracking(w http.ResponseWriter, r *http.Request, app App) {
	pc, ok := loadProfile(w, r, app, "tracking", r.URL.Query().Get("sa"))
	if !ok {
		return
	}
	switch pc.Menu.CurrentSA {
	case "ip":
		trackIP(w, r, app, pc)
	case "edits":
		trackEdits(w, r, app, pc)
	case "logins":
		trackLogins(w, r, app, pc)
	default:
		trackActivity(w, r, app, pc)
	}
}

func trackActivity(w http.ResponseWriter, r *http.Request, app App, pc *profileContext) {
	logger := app.Logger().With("handler", "trackActivity")
	ips, err := app.DB().MemberIPs(r.Context(), pc.Member.ID)
	if err != nil {
		fail(w, r, app, logger, err, "Failed to load member addresses")
		return
	}
	opts := parseListOptions(r, config.TrackingPerPage)

	var (
		shared []models.MemberRef
		errs   []models.ErrorLogEntry
		total  int
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		shared, err = app.DB().MembersSharingIPs(ctx, pc.Member.ID, lo.Map(ips, func(u models.IPUsage, _ int) string { return u.IP }))
		return err
	})
	g.Go(func() error {
		var err error
		errs, total, err = app.DB().MemberErrors(ctx, pc.Member.ID, opts.Page, opts.PerPage)
		return err
	})
	if err := g.Wait(); err != nil {
		fail(w, r, app, logger, err, "Failed to load member activity")
		return
	}

	data := pc.data("Track Activity")
	for k, v := range listData(opts, total) {
		data[k] = v
	}
	data["IPs"] = ips
	data["SharedMembers"] = shared
	data["Errors"] = errs
	render(w, r, app, "layout.html", "profile_tracking.html", data)
}

func trackIP(w http.ResponseWriter, r *http.Request, app App, pc *profileContext) {
	logger := app.Logger().With("handler", "trackIP")
	data := pc.data("IP Lookup")
	input := strings.TrimSpace(r.URL.Query().Get("ip"))
	if input == "" {
		input = pc.Member.LastIP
	}
	data["IP"] = input

	pattern, ok := utils.IPPattern(input)
	if !ok {
		if input != "" {
			data["InvalidIP"] = true
		}
		render(w, r, app, "layout.html", "profile_tracking.html", data)
		return
	}

	boards := currentPerms(r).BoardsAllowedTo(auth.ModerateBoard)
	opts := parseListOptions(r, config.TrackingPerPage)
	var (
		members []models.MemberRef
		msgs    []models.Message
		errs    []models.ErrorLogEntry
		total   int
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		members, err = app.DB().IPMembers(ctx, pattern)
		return err
	})
	g.Go(func() error {
		var err error
		msgs, total, err = app.DB().IPMessages(ctx, pattern, boards, opts.Page, opts.PerPage)
		return err
	})
	g.Go(func() error {
		var err error
		errs, _, err = app.DB().IPErrors(ctx, pattern, 1, opts.PerPage)
		return err
	})
	if err := g.Wait(); err != nil {
		fail(w, r, app, logger, err, "Failed to look up address")
		return
	}
	for k, v := range listData(opts, total) {
		data[k] = v
	}
	data["IPMembers"] = members
	data["Messages"] = msgs
	data["Errors"] = errs
	render(w, r, app, "layout.html", "profile_tracking.html", data)
}

func trackEdits(w http.ResponseWriter, r *http.Request, app App, pc *profileContext) {
	logger := app.Logger().With("handler", "trackEdits")
	opts := parseListOptions(r, config.TrackingPerPage, logSorts...)
	entries, total, err := app.DB().ListLogActions(r.Context(), database.LogFilter{
		LogType:  models.LogProfile,
		TargetID: pc.Member.ID,
		Sort:     opts.Sort,
		Desc:     opts.Desc,
		Page:     opts.Page,
		PerPage:  opts.PerPage,
	})
	if err != nil {
		fail(w, r, app, logger, err, "Failed to load profile edits")
		return
	}
	data := pc.data("Profile Edits")
	for k, v := range listData(opts, total) {
		data[k] = v
	}
	data["Edits"] = entries
	render(w, r, app, "layout.html", "profile_tracking.html", data)
}

func trackLogins(w http.ResponseWriter, r *http.Request, app App, pc *profileContext) {
	logger := app.Logger().With("handler", "trackLogins")
	opts := parseListOptions(r, config.TrackingPerPage)
	logins, total, err := app.DB().ListLogins(r.Context(), pc.Member.ID, opts.Page, opts.PerPage)
	if err != nil {
		fail(w, r, app, logger, err, "Failed to load logins")
		return
	}
	data := pc.data("Logins")
	for k, v := range listData(opts, total) {
		data[k] = v
	}
	data["Logins"] = logins
	render(w, r, app, "layout.html", "profile_tracking.html", data)
}
