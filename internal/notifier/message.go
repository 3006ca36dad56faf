package notifier

import (
	"fmt"
	"html"
	"time"

	"github.com/amishk599/jobalert/internal/model"
)

const (
	alertFooter  = "<i>Tapez /pause pour arrêter les alertes</i>"
	manualFooter = "<i>🔧 Cette alerte a été envoyée manuellement par l'administrateur</i>"
)

// DisplayLocation is the zone posting dates are shown in. It falls back to
// UTC when the zone database is unavailable.
var DisplayLocation = loadLocation("Europe/Zurich")

func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FormatJobMessage renders one listing as a French HTML chat message.
func FormatJobMessage(j model.JobMatch) string {
	return formatJob(j, alertFooter)
}

// FormatManualMessage renders a listing sent by an operator rather than the
// scheduled pipeline.
func FormatManualMessage(j model.JobMatch) string {
	return formatJob(j, manualFooter)
}

func formatJob(j model.JobMatch, footer string) string {
	return fmt.Sprintf(`🔔 <b>Nouvelle offre d'emploi!</b>

📋 <b>Titre:</b> %s
🏢 <b>Entreprise:</b> %s
📍 <b>Lieu:</b> %s
📅 <b>Publié:</b> %s
🔗 <a href="%s">📋 Postuler maintenant</a>

%s`,
		html.EscapeString(j.Title),
		html.EscapeString(j.Company),
		html.EscapeString(j.Location),
		j.PostedAt.In(DisplayLocation).Format("02/01/2006"),
		html.EscapeString(j.URL),
		footer,
	)
}
