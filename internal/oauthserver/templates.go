package oauthserver

import "html/template"

// Minimal, unthemed login/consent pages (spec non-goal: themed UI). Hidden
// fields round-trip the original authorize request through /verify and
// /consent untouched, per §4.G.
var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html><head><title>Sign in</title></head>
<body>
<h1>Sign in</h1>
{{if .Error}}<p style="color:red">{{.Error}}</p>{{end}}
<form method="POST" action="/oauth/verify">
<input type="hidden" name="authorize_query" value="{{.AuthorizeQuery}}">
<label>Email <input type="email" name="email" required></label><br>
<label>Password <input type="password" name="password" required></label><br>
<button type="submit">Sign in</button>
</form>
{{range .Providers}}
<form method="POST" action="/oauth/verify">
<input type="hidden" name="authorize_query" value="{{$.AuthorizeQuery}}">
<input type="hidden" name="provider" value="{{.}}">
<button type="submit">Sign in with {{.}}</button>
</form>
{{end}}
</body></html>`))

var consentTemplate = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html><head><title>Authorize access</title></head>
<body>
<h1>{{.ClientName}} is requesting access</h1>
<p>Signed in as {{.Email}}</p>
<p>Requested scopes:</p>
<ul>{{range .Scopes}}<li>{{.}}</li>{{end}}</ul>
{{if .Resource}}<p>Resource: {{.Resource}}</p>{{end}}
<form method="POST" action="/oauth/consent">
<input type="hidden" name="authorize_query" value="{{.AuthorizeQuery}}">
<button type="submit" name="decision" value="allow">Allow</button>
<button type="submit" name="decision" value="deny">Deny</button>
</form>
</body></html>`))

type loginPageData struct {
	Error          string
	AuthorizeQuery string
	Providers      []string
}

type consentPageData struct {
	ClientName     string
	Email          string
	Scopes         []string
	Resource       string
	AuthorizeQuery string
}
