package compose

import "github.com/groveline/prospector/internal/model"

// rawSet holds template sources for one channel. The bodies slice is
// indexed by sequence position variant.
type rawSet struct {
	subject string
	bodies  []string
}

var builtinTemplates = map[model.Channel]rawSet{
	model.ChannelEmailSMTP: {
		subject: `{{if .FirstName}}{{.FirstName}}, quick{{else}}Quick{{end}} question about {{.BusinessName}}`,
		bodies: []string{
			`{{if .FirstName}}Hi {{.FirstName}},{{else}}Hi there,{{end}}

{{if .GapHighlight}}{{.GapHighlight}} while looking at {{.Domain}}. {{end}}We work with {{lower .Category}} businesses{{if .Region}} around {{.Region}}{{end}} that want more of their neighborhood walking through the door, without hiring an agency.

Worth a ten minute call this week?

{{.SenderName}}
{{.SenderTitle}}, {{.OrgName}}`,
			`{{if .FirstName}}Hi {{.FirstName}},{{else}}Hi there,{{end}}

Following up on my last note about {{.BusinessName}}. I know things get busy, so I'll keep it short: we help businesses like yours show up where customers are already looking.

If the timing is wrong, just say so and I'll close the file.

{{.SenderName}}
{{.SenderTitle}}, {{.OrgName}}`,
			`{{if .FirstName}}Hi {{.FirstName}},{{else}}Hi there,{{end}}

Last note from me. If growing {{.BusinessName}} ever moves up the list, my door is open.

All the best,
{{.SenderName}}
{{.SenderTitle}}, {{.OrgName}}`,
		},
	},
	model.ChannelSMS: {
		bodies: []string{
			`{{if .FirstName}}Hi {{.FirstName}}, {{end}}this is {{.SenderName}} from {{.OrgName}}. I sent a note about {{.BusinessName}} recently. Happy to share what we do for {{lower .Category}} businesses nearby. Reply STOP to opt out.`,
			`{{.SenderName}} from {{.OrgName}} again. No pressure, just checking whether my note about {{.BusinessName}} reached you. Reply STOP to opt out.`,
		},
	},
	model.ChannelSocialDM: {
		bodies: []string{
			`{{if .FirstName}}Hi {{.FirstName}}!{{else}}Hi!{{end}} Came across {{.BusinessName}} and wanted to reach out. We help {{lower .Category}} businesses{{if .Region}} around {{.Region}}{{end}} reach more local customers. Open to a quick chat?`,
		},
	},
	model.ChannelVoiceDrop: {
		bodies: []string{
			`Hi, this is {{.SenderName}} with {{.OrgName}}. I reached out by email about {{.BusinessName}} and wanted to put a voice to the name. We work with {{lower .Category}} businesses in your area. Call me back whenever suits, no rush. Thanks.`,
		},
	},
	model.ChannelPostal: {
		bodies: []string{
			`{{if .ContactName}}{{.ContactName}}{{else}}Owner{{end}}
{{.BusinessName}}

{{if .FirstName}}Dear {{.FirstName}},{{else}}Hello,{{end}}

A letter is old fashioned, which is exactly why I wrote one. {{if .GapHighlight}}{{.GapHighlight}}, and that is the kind of gap we close for {{lower .Category}} businesses{{if .Region}} around {{.Region}}{{end}}.{{else}}We help {{lower .Category}} businesses{{if .Region}} around {{.Region}}{{end}} turn their local reputation into steady new customers.{{end}}

If you'd like to hear how, my details are below.

Warm regards,

{{.SenderName}}
{{.SenderTitle}}, {{.OrgName}}`,
		},
	},
}
