package noshow

import (
	"fmt"
	"strings"
	"time"

	"github.com/cliniflow/cliniflow/internal/platform/errs"
	"github.com/cliniflow/cliniflow/internal/platform/messaging"
)

// CampaignIDFor derives the recovery campaign id from a motive.
func CampaignIDFor(motive string) string {
	return "RECOVERY_" + strings.ToUpper(strings.TrimSpace(motive))
}

// CampaignPlan is the outreach recipe for a motive: which campaign the case
// joins, where the message goes, and what it says. High-priority motives
// additionally want a phone call from a coordinator.
type CampaignPlan struct {
	CampaignID    string            `json:"campaign_id"`
	Channel       messaging.Channel `json:"channel"`
	Template      string            `json:"template"`
	PhoneCallTask bool              `json:"phone_call_task"`
}

var campaignTemplates = map[string]string{
	MotiveEconomico:  "Hola! Tenemos opciones de pago flexibles para retomar tu tratamiento. Te gustaria conocerlas?",
	MotiveOlvido:     "Hola! Notamos que no pudiste asistir a tu cita. Te ayudamos a reagendarla?",
	MotiveEnfermedad: "Esperamos que te encuentres mejor. Cuando gustes retomamos tu cita.",
	MotiveTrabajo:    "Sabemos que el trabajo complica los horarios. Tenemos espacios por la tarde y fines de semana.",
	MotiveViaje:      "Esperamos que hayas tenido buen viaje. Te esperamos para reagendar tu cita a tu regreso.",
	MotiveDesinteres: "Nos encantaria saber como podemos mejorar tu experiencia. Tu opinion nos importa.",
	MotiveSinMotivo:  "Hola! No pudimos contactarte tras tu cita. Sigues interesado en continuar?",
}

// SelectCampaign maps a motive to its recovery campaign. Motives that do not
// recover (RazaBrava) have no campaign.
func SelectCampaign(motive string) (*CampaignPlan, error) {
	motive = strings.ToLower(strings.TrimSpace(motive))
	info, ok := motiveCatalog[motive]
	if !ok {
		return nil, errs.Validation("motive", "unknown motive "+motive)
	}
	if !info.RequiresRecovery {
		return nil, errs.Validation("motive", "motive "+motive+" has no recovery campaign")
	}
	template, ok := campaignTemplates[motive]
	if !ok {
		template = fmt.Sprintf("Hola! Te esperamos para reagendar tu cita (%s).", info.Description)
	}
	return &CampaignPlan{
		CampaignID:    CampaignIDFor(motive),
		Channel:       messaging.ChannelWhatsApp,
		Template:      template,
		PhoneCallTask: info.Priority == "high",
	}, nil
}

// NextAttemptAfter applies the motive's recontact delay to a reference time.
func NextAttemptAfter(motive string, from time.Time) (time.Time, error) {
	info, ok := motiveCatalog[strings.ToLower(strings.TrimSpace(motive))]
	if !ok {
		return time.Time{}, errs.Validation("motive", "unknown motive "+motive)
	}
	return from.AddDate(0, 0, info.RecontactDelayDays), nil
}
