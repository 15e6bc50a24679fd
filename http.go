// CLAUDE:SUMMARY HTTP API — chi router over the Keeper query surface plus sync trigger and embedding retry.

package lexkeeper

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/lexkeeper/shield"
)

// Handler returns the HTTP API. All responses are JSON; errors come back as
// {"error": "..."} with a status from errorStatus.
func (k *Keeper) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(k.rl) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
			st, err := k.Stats(r.Context())
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, st)
		})

		r.Get("/instruments", func(w http.ResponseWriter, r *http.Request) {
			ins, err := k.ListInstruments(r.Context(),
				r.URL.Query().Get("title"), queryInt(r, "limit", 50))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, ins)
		})

		r.Route("/instruments/{instrumentID}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				in, err := k.GetInstrument(r.Context(), chi.URLParam(r, "instrumentID"))
				if err != nil {
					writeError(w, errorStatus(err), err)
					return
				}
				writeJSON(w, 200, in)
			})

			r.Get("/blocks", func(w http.ResponseWriter, r *http.Request) {
				blocks, err := k.ListBlocks(r.Context(), chi.URLParam(r, "instrumentID"))
				if err != nil {
					writeError(w, 500, err)
					return
				}
				writeJSON(w, 200, blocks)
			})

			r.Route("/blocks/{blockID}", func(r chi.Router) {
				r.Get("/versions", func(w http.ResponseWriter, r *http.Request) {
					vs, err := k.ListVersions(r.Context(),
						chi.URLParam(r, "instrumentID"), chi.URLParam(r, "blockID"))
					if err != nil {
						writeError(w, 500, err)
						return
					}
					writeJSON(w, 200, vs)
				})

				r.Get("/current", func(w http.ResponseWriter, r *http.Request) {
					v, err := k.ResolveCurrent(r.Context(),
						chi.URLParam(r, "instrumentID"), chi.URLParam(r, "blockID"))
					if err != nil {
						writeError(w, errorStatus(err), err)
						return
					}
					writeJSON(w, 200, v)
				})

				r.Get("/as-of", func(w http.ResponseWriter, r *http.Request) {
					date := r.URL.Query().Get("date")
					if err := ValidateDate(date); err != nil {
						writeError(w, 400, err)
						return
					}
					v, err := k.ResolveAsOf(r.Context(),
						chi.URLParam(r, "instrumentID"), chi.URLParam(r, "blockID"), date)
					if err != nil {
						writeError(w, errorStatus(err), err)
						return
					}
					writeJSON(w, 200, v)
				})
			})
		})

		r.Route("/versions/{versionID}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				v, err := k.GetVersion(r.Context(), chi.URLParam(r, "versionID"))
				if err != nil {
					writeError(w, errorStatus(err), err)
					return
				}
				writeJSON(w, 200, v)
			})

			r.Get("/fragments", func(w http.ResponseWriter, r *http.Request) {
				fs, err := k.Fragments(r.Context(), chi.URLParam(r, "versionID"))
				if err != nil {
					writeError(w, 500, err)
					return
				}
				writeJSON(w, 200, fs)
			})
		})

		r.Get("/search", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query().Get("q")
			if q == "" {
				writeError(w, 400, errors.New("missing query parameter q"))
				return
			}
			hits, err := k.Search(r.Context(), q,
				r.URL.Query().Get("instrument"), queryInt(r, "limit", 20))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, hits)
		})

		r.Post("/search/semantic", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Query       string `json:"query"`
				Limit       int    `json:"limit"`
				InForceOnly bool   `json:"in_force_only"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			if req.Query == "" {
				writeError(w, 400, errors.New("missing query"))
				return
			}
			if req.Limit <= 0 {
				req.Limit = 10
			}
			hits, err := k.SemanticSearch(r.Context(), req.Query, req.Limit, req.InForceOnly)
			if err != nil {
				writeError(w, errorStatus(err), err)
				return
			}
			writeJSON(w, 200, hits)
		})

		r.Post("/sync", func(w http.ResponseWriter, _ *http.Request) {
			if !k.TriggerSync() {
				writeError(w, 409, errors.New("sync already queued"))
				return
			}
			writeJSON(w, 202, map[string]string{"status": "queued"})
		})

		r.Get("/runs", func(w http.ResponseWriter, r *http.Request) {
			runs, err := k.SyncRuns(r.Context(), queryInt(r, "limit", 20))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, runs)
		})

		r.Get("/inconsistencies", func(w http.ResponseWriter, r *http.Request) {
			incs, err := k.Inconsistencies(r.Context())
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, incs)
		})

		r.Post("/embeddings/retry", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				FragmentIDs []string `json:"fragment_ids"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			n, err := k.RetryEmbeddings(r.Context(), req.FragmentIDs)
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]int{"retried": n})
		})
	})

	return r
}

// errorStatus maps the query sentinels onto HTTP statuses. Anything
// unexpected is a 500.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrNoCurrentVersion),
		errors.Is(err, ErrNoVersionInForce):
		return 404
	case errors.Is(err, ErrVectorsDisabled):
		return 503
	default:
		return 500
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
