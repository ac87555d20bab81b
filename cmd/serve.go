package main

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/groveline/prospector/internal/model"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook and unsubscribe server",
	Long:  "Serves delivery-event webhooks, the public unsubscribe page, and account and deliverability stats.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/webhook/events", func(w http.ResponseWriter, req *http.Request) {
			var ev model.InboundEvent
			if err := json.NewDecoder(req.Body).Decode(&ev); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event body"})
				return
			}
			if ev.LeadID == "" || ev.Type == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "type and lead_id are required"})
				return
			}
			if err := env.Engine.HandleEvent(req.Context(), &ev); err != nil {
				zap.L().Error("webhook event failed",
					zap.String("type", string(ev.Type)),
					zap.String("lead_id", ev.LeadID),
					zap.Error(err),
				)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "event not processed"})
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		})

		// The unsubscribe link from outgoing mail lands here. GET shows a
		// confirmation page so mail scanners following links do not
		// unsubscribe anyone; only the POST commits.
		r.Get("/unsubscribe", func(w http.ResponseWriter, req *http.Request) {
			lead := req.URL.Query().Get("lead")
			addr := req.URL.Query().Get("addr")
			org := req.URL.Query().Get("org")
			if lead == "" || addr == "" || org == "" {
				http.Error(w, "missing parameters", http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprintf(w, unsubscribePage,
				html.EscapeString(addr),
				html.EscapeString(org), html.EscapeString(lead), html.EscapeString(addr),
			)
		})

		r.Post("/unsubscribe", func(w http.ResponseWriter, req *http.Request) {
			if err := req.ParseForm(); err != nil {
				http.Error(w, "invalid form", http.StatusBadRequest)
				return
			}
			ev := model.InboundEvent{
				Type:    model.EventUnsubscribe,
				OrgID:   req.PostFormValue("org"),
				LeadID:  req.PostFormValue("lead"),
				Address: req.PostFormValue("addr"),
				At:      time.Now().UTC(),
			}
			if ev.OrgID == "" || ev.LeadID == "" || ev.Address == "" {
				http.Error(w, "missing parameters", http.StatusBadRequest)
				return
			}
			if err := env.Engine.HandleEvent(req.Context(), &ev); err != nil {
				zap.L().Error("unsubscribe failed", zap.String("lead_id", ev.LeadID), zap.Error(err))
				http.Error(w, "could not process unsubscribe", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, "<h1>You have been unsubscribed.</h1><p>You will not hear from us again.</p>")
		})

		r.Get("/stats/accounts", func(w http.ResponseWriter, req *http.Request) {
			org := req.URL.Query().Get("org")
			if org == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "org is required"})
				return
			}
			statuses, err := env.Engine.Pool().Status(req.Context(), org)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "stats unavailable"})
				return
			}
			writeJSON(w, http.StatusOK, statuses)
		})

		r.Get("/stats/deliverability", func(w http.ResponseWriter, req *http.Request) {
			org := req.URL.Query().Get("org")
			if org == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "org is required"})
				return
			}
			health, err := env.Engine.Guard().DeliverabilityHealth(req.Context(), org)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "stats unavailable"})
				return
			}
			writeJSON(w, http.StatusOK, health)
		})

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("server listening", zap.Int("port", cfg.Server.Port))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			zap.L().Info("server stopping")
			return srv.Close()
		case err := <-errCh:
			return err
		}
	},
}

const unsubscribePage = `<!doctype html>
<html><body>
<h1>Unsubscribe</h1>
<p>Stop all messages to <strong>%s</strong>?</p>
<form method="post" action="/unsubscribe">
<input type="hidden" name="org" value="%s">
<input type="hidden" name="lead" value="%s">
<input type="hidden" name="addr" value="%s">
<button type="submit">Unsubscribe</button>
</form>
</body></html>
`

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
