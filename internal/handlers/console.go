package handlers

import (
	"net/http"

	"github.com/thefortaiagency/aether-insight/internal/models"
)

// ConsolePageData holds the data passed to the console template
type ConsolePageData struct {
	Title   string
	Actions []models.Action
}

// consoleActions is the button order on the scoring pad
var consoleActions = []models.Action{
	models.ActionTakedown,
	models.ActionEscape,
	models.ActionReversal,
	models.ActionNearFall2,
	models.ActionNearFall3,
	models.ActionNearFall4,
	models.ActionPenalty,
	models.ActionStalling,
	models.ActionCaution,
	models.ActionRidingTime,
	models.ActionPin,
}

func (h *Handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/console", http.StatusFound)
}

func (h *Handlers) handleConsole(w http.ResponseWriter, r *http.Request) {
	h.templates.Console.Execute(w, ConsolePageData{
		Title:   "Aether Mat Console",
		Actions: consoleActions,
	})
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondOK(w, map[string]string{"status": "ok"})
}
