// Package api exposes the pricing system over a small JSON HTTP surface.
// Handlers stay thin: decode, call into the store/engine/backup layers,
// map typed errors onto status codes.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"taproom/internal/backup"
	"taproom/internal/core"
	"taproom/internal/pricing"
	"taproom/internal/store"
	"taproom/pkg/apperrors"
)

// ChangeBroadcaster pushes board mutations to connected displays.
type ChangeBroadcaster interface {
	BroadcastDrinksChanged(data interface{})
	BroadcastSettingsChanged(data interface{})
}

type nopChangeBroadcaster struct{}

func (nopChangeBroadcaster) BroadcastDrinksChanged(interface{})   {}
func (nopChangeBroadcaster) BroadcastSettingsChanged(interface{}) {}

// API wires HTTP routes to the state store, price engine and backup store.
type API struct {
	state       *store.StateStore
	engine      *pricing.Engine
	backups     *backup.Store
	restorer    *backup.Restorer
	broadcaster ChangeBroadcaster
	logger      core.ILogger
	now         func() time.Time
}

func New(state *store.StateStore, engine *pricing.Engine, backups *backup.Store, restorer *backup.Restorer, broadcaster ChangeBroadcaster, logger core.ILogger) *API {
	if broadcaster == nil {
		broadcaster = nopChangeBroadcaster{}
	}
	return &API{
		state:       state,
		engine:      engine,
		backups:     backups,
		restorer:    restorer,
		broadcaster: broadcaster,
		logger:      logger.WithField("component", "api"),
		now:         time.Now,
	}
}

// Handler returns the routed handler, ready to mount at /api/.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/drinks", a.listDrinks)
	mux.HandleFunc("POST /api/drinks", a.createDrink)
	mux.HandleFunc("PUT /api/drinks/{id}", a.updateDrink)
	mux.HandleFunc("DELETE /api/drinks/{id}", a.deleteDrink)
	mux.HandleFunc("POST /api/drinks/{id}/sale", a.recordSale)
	mux.HandleFunc("POST /api/drinks/reorder", a.reorderDrinks)

	mux.HandleFunc("GET /api/settings", a.getSettings)
	mux.HandleFunc("PUT /api/settings", a.updateSettings)

	mux.HandleFunc("GET /api/backups", a.listBackups)
	mux.HandleFunc("POST /api/backups", a.createBackup)
	mux.HandleFunc("POST /api/backups/{name}/restore", a.restoreBackup)
	mux.HandleFunc("GET /api/backups/{name}/verify", a.verifyBackup)

	mux.HandleFunc("GET /api/engine/status", a.engineStatus)
	mux.HandleFunc("POST /api/engine/force-update", a.forceUpdate)

	return mux
}

// --- drinks ---

func (a *API) listDrinks(w http.ResponseWriter, r *http.Request) {
	snap := a.state.Read()
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"drinks":   snap.Drinks,
		"metadata": snap.Metadata,
	})
}

type drinkRequest struct {
	Name          string `json:"name"`
	MinimumPrice  string `json:"minimum_price"`
	CurrentPrice  string `json:"current_price"`
	PriceStepSize string `json:"price_step_size"`
	ListPosition  int    `json:"list_position"`
}

func (a *API) createDrink(w http.ResponseWriter, r *http.Request) {
	var req drinkRequest
	if !a.decode(w, r, &req) {
		return
	}

	min, err := parsePrice(req.MinimumPrice, "minimum_price")
	if err != nil {
		a.writeError(w, err)
		return
	}
	current, err := parsePrice(req.CurrentPrice, "current_price")
	if err != nil {
		a.writeError(w, err)
		return
	}
	step, err := parsePrice(req.PriceStepSize, "price_step_size")
	if err != nil {
		a.writeError(w, err)
		return
	}

	drink, err := a.state.CreateDrink(req.Name, min, current, step, req.ListPosition)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.broadcastDrinks()
	a.writeJSON(w, http.StatusCreated, drink)
}

func (a *API) updateDrink(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Name          *string `json:"name"`
		MinimumPrice  *string `json:"minimum_price"`
		CurrentPrice  *string `json:"current_price"`
		PriceStepSize *string `json:"price_step_size"`
		ListPosition  *int    `json:"list_position"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	patch := store.DrinkPatch{
		Name:         req.Name,
		ListPosition: req.ListPosition,
	}
	var err error
	if patch.MinimumPrice, err = parseOptionalPrice(req.MinimumPrice, "minimum_price"); err != nil {
		a.writeError(w, err)
		return
	}
	if patch.CurrentPrice, err = parseOptionalPrice(req.CurrentPrice, "current_price"); err != nil {
		a.writeError(w, err)
		return
	}
	if patch.PriceStepSize, err = parseOptionalPrice(req.PriceStepSize, "price_step_size"); err != nil {
		a.writeError(w, err)
		return
	}

	drink, err := a.state.UpdateDrink(id, patch)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.broadcastDrinks()
	a.writeJSON(w, http.StatusOK, drink)
}

func (a *API) deleteDrink(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}

	if err := a.state.DeleteDrink(id); err != nil {
		a.writeError(w, err)
		return
	}

	a.broadcastDrinks()
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) recordSale(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}

	quantity := 1
	if r.ContentLength != 0 {
		var req struct {
			Quantity int `json:"quantity"`
		}
		if !a.decode(w, r, &req) {
			return
		}
		if req.Quantity != 0 {
			quantity = req.Quantity
		}
	}

	drink, err := a.state.RecordSale(id, quantity)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, drink)
}

func (a *API) reorderDrinks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DrinkIDs []int `json:"drink_ids"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	if err := a.state.Reorder(req.DrinkIDs); err != nil {
		a.writeError(w, err)
		return
	}

	a.broadcastDrinks()
	a.writeJSON(w, http.StatusOK, a.state.Read().Drinks)
}

// --- settings ---

func (a *API) getSettings(w http.ResponseWriter, r *http.Request) {
	snap := a.state.Read()
	a.writeJSON(w, http.StatusOK, snap.Settings)
}

func (a *API) updateSettings(w http.ResponseWriter, r *http.Request) {
	var patch store.SettingsPatch
	if !a.decodeSettingsPatch(w, r, &patch) {
		return
	}

	settings, err := a.state.UpdateSettings(patch)
	if err != nil {
		a.writeError(w, err)
		return
	}

	if patch.RefreshCycle != nil && a.engine != nil && a.engine.Running() {
		a.engine.UpdateRefreshCycle(*patch.RefreshCycle)
	}

	a.broadcaster.BroadcastSettingsChanged(settings)
	a.writeJSON(w, http.StatusOK, settings)
}

func (a *API) decodeSettingsPatch(w http.ResponseWriter, r *http.Request, patch *store.SettingsPatch) bool {
	var req struct {
		RefreshCycle        *int    `json:"refresh_cycle"`
		DisplayTitle        *string `json:"display_title"`
		CurrencySymbol      *string `json:"currency_symbol"`
		SoundEnabled        *bool   `json:"sound_enabled"`
		SoundVolume         *int    `json:"sound_volume"`
		AutoBackupEnabled   *bool   `json:"auto_backup_enabled"`
		BackupRetentionDays *int    `json:"backup_retention_days"`
		MaxConcurrentUsers  *int    `json:"max_concurrent_users"`
		TrendHistoryCycles  *int    `json:"trend_history_cycles"`
	}
	if !a.decode(w, r, &req) {
		return false
	}
	*patch = store.SettingsPatch{
		RefreshCycle:        req.RefreshCycle,
		DisplayTitle:        req.DisplayTitle,
		CurrencySymbol:      req.CurrencySymbol,
		SoundEnabled:        req.SoundEnabled,
		SoundVolume:         req.SoundVolume,
		AutoBackupEnabled:   req.AutoBackupEnabled,
		BackupRetentionDays: req.BackupRetentionDays,
		MaxConcurrentUsers:  req.MaxConcurrentUsers,
		TrendHistoryCycles:  req.TrendHistoryCycles,
	}
	return true
}

// --- backups ---

func (a *API) listBackups(w http.ResponseWriter, r *http.Request) {
	records, err := a.backups.List()
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"backups": records,
		"count":   len(records),
	})
}

func (a *API) createBackup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if r.ContentLength != 0 && !a.decode(w, r, &req) {
		return
	}

	name := req.Name
	if name == "" {
		name = backup.ManualName(a.now())
	}

	snap := a.state.Read()
	path, err := a.backups.Persist(name, snap, req.Description, backup.TypeManual)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"name":   name,
		"path":   path,
		"drinks": len(snap.Drinks),
	})
}

func (a *API) restoreBackup(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	result, err := a.restorer.Restore(name)
	if err != nil {
		a.writeError(w, err)
		return
	}

	settings := a.state.Read().Settings
	if a.engine != nil && a.engine.Running() {
		a.engine.UpdateRefreshCycle(settings.RefreshCycle)
	}

	a.broadcastDrinks()
	a.broadcaster.BroadcastSettingsChanged(settings)
	a.writeJSON(w, http.StatusOK, result)
}

func (a *API) verifyBackup(w http.ResponseWriter, r *http.Request) {
	report := a.backups.Verify(r.PathValue("name"))
	status := http.StatusOK
	if !report.Exists {
		status = http.StatusNotFound
	}
	a.writeJSON(w, status, report)
}

// --- engine ---

func (a *API) engineStatus(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.engine.Status())
}

func (a *API) forceUpdate(w http.ResponseWriter, r *http.Request) {
	changes, err := a.engine.ForceUpdate(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"changes":      changes,
		"change_count": len(changes),
	})
}

// --- helpers ---

func (a *API) broadcastDrinks() {
	snap := a.state.Read()
	a.broadcaster.BroadcastDrinksChanged(map[string]interface{}{
		"drinks":   snap.Drinks,
		"metadata": snap.Metadata,
	})
}

func (a *API) pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		a.writeError(w, apperrors.NewValidationError("drink id must be an integer"))
		return 0, false
	}
	return id, true
}

func parsePrice(value, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, apperrors.NewValidationError(field + " must be a decimal number")
	}
	return d, nil
}

func parseOptionalPrice(value *string, field string) (*decimal.Decimal, error) {
	if value == nil {
		return nil, nil
	}
	d, err := parsePrice(*value, field)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		a.writeError(w, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return false
	}
	return true
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("Failed to encode response", "error", err.Error())
	}
}

type errorBody struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

// writeError maps the error taxonomy onto HTTP status codes: rejected input
// is 400, missing resources 404, busy/failed persistence 409, corrupted
// durable data 422, failed restores 500.
func (a *API) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Error: err.Error()}

	var ve *apperrors.ValidationError
	var rf *apperrors.RestoreFailure

	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
		body.Problems = ve.Problems
	case errors.Is(err, apperrors.ErrDrinkNotFound), errors.Is(err, apperrors.ErrBackupNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperrors.ErrEngineRunning), errors.Is(err, apperrors.ErrEngineNotRunning),
		errors.Is(err, apperrors.ErrCycleInProgress):
		status = http.StatusConflict
	case apperrors.IsCorrupted(err):
		status = http.StatusUnprocessableEntity
	case apperrors.IsPersistence(err):
		status = http.StatusConflict
	case errors.As(err, &rf):
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		a.logger.Error("Request failed", "status", status, "error", err.Error())
	}

	a.writeJSON(w, status, body)
}

// StateSnapshot builds the full-board message payload a new display client
// receives on connect.
func (a *API) StateSnapshot() map[string]interface{} {
	snap := a.state.Read()
	payload := map[string]interface{}{
		"drinks":   snap.Drinks,
		"settings": snap.Settings,
		"metadata": snap.Metadata,
	}
	if a.engine != nil {
		payload["engine"] = a.engine.Status()
	}
	return payload
}
