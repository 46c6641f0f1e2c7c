package email

import (
	"fmt"
	"html/template"

	"github.com/apnisec/backend/internal/db"
)

func greeting(name string) string {
	if name == "" {
		return "there"
	}
	return template.HTMLEscapeString(name)
}

func welcomeEmail(name string) (subject, html string) {
	subject = "Welcome to ApniSec"
	html = fmt.Sprintf(`<div style="font-family:system-ui,sans-serif;padding:24px;background:#020617;color:#e5e7eb;">
<h1 style="color:#22c55e;font-size:24px;margin-bottom:12px;">Welcome to ApniSec, %s</h1>
<p style="margin-bottom:16px;">Thank you for signing up to the ApniSec security portal.</p>
<p style="margin-bottom:16px;">You can now log in, create issues for Cloud Security, Red Team Assessments and VAPT, and track them from your dashboard.</p>
<p style="margin-bottom:4px;">Best regards,</p>
<p style="margin:0;font-weight:600;">ApniSec Team</p>
</div>`, greeting(name))
	return subject, html
}

func passwordResetEmail(name, resetLink string) (subject, html string) {
	subject = "Reset your ApniSec password"
	html = fmt.Sprintf(`<div style="font-family:system-ui,sans-serif;padding:24px;background:#020617;color:#e5e7eb;">
<p style="margin-bottom:12px;">Hi %s,</p>
<p style="margin-bottom:12px;">We received a request to reset your ApniSec password.</p>
<p style="margin-bottom:16px;">If you made this request, click the button below to choose a new password. This link expires in 15 minutes.</p>
<p style="margin-bottom:24px;"><a href="%s" style="display:inline-block;padding:10px 18px;border-radius:999px;background:#22c55e;color:#020617;font-weight:600;text-decoration:none;">Reset password</a></p>
<p style="margin-bottom:12px;">If you didn't request this, you can safely ignore this email.</p>
<p style="margin-bottom:4px;">Stay secure,</p>
<p style="margin:0;font-weight:600;">ApniSec Team</p>
</div>`, greeting(name), template.HTMLEscapeString(resetLink))
	return subject, html
}

func issueCreatedEmail(name string, issue *db.Issue) (subject, html string) {
	subject = fmt.Sprintf("New %s issue created: %s", issue.Type, issue.Title)
	html = fmt.Sprintf(`<div style="font-family:system-ui,sans-serif;padding:24px;background:#020617;color:#e5e7eb;">
<p style="margin-bottom:12px;">Hi %s,</p>
<p style="margin-bottom:12px;">A new issue has been created in your ApniSec workspace:</p>
<div style="border-radius:8px;border:1px solid #1f2937;padding:16px;margin-bottom:16px;">
<p style="margin:0 0 8px 0;"><strong>Type:</strong> %s</p>
<p style="margin:0 0 8px 0;"><strong>Title:</strong> %s</p>
<p style="margin:0 0 8px 0;"><strong>Priority:</strong> %s</p>
<p style="margin:0 0 8px 0;"><strong>Status:</strong> %s</p>
<p style="margin:8px 0 0 0;"><strong>Description:</strong></p>
<p style="margin:4px 0 0 0;white-space:pre-line;">%s</p>
</div>
<p style="margin-bottom:4px;">You can update this issue from your ApniSec dashboard.</p>
<p style="margin:0;">Stay secure,</p>
<p style="margin:0;font-weight:600;">ApniSec Team</p>
</div>`,
		greeting(name),
		template.HTMLEscapeString(issue.Type),
		template.HTMLEscapeString(issue.Title),
		template.HTMLEscapeString(issue.Priority),
		template.HTMLEscapeString(issue.Status),
		template.HTMLEscapeString(issue.Description),
	)
	return subject, html
}
