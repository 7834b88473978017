package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/davidroman0O/studioflow/internal/types"
)

type copyText struct {
	Subject  string
	Title    string
	Greeting string
	Message  string
	Extra    string
	Button   string
	Footer   string
}

var translations = map[types.Language]map[Template]copyText{
	types.LanguageKorean: {
		TemplateVideoComplete: {
			Subject:  "영상 생성이 완료되었습니다! 🎬",
			Title:    "영상 생성 완료",
			Greeting: "안녕하세요, %s님!",
			Message:  "요청하신 AI 패션 영상이 성공적으로 생성되었습니다.",
			Button:   "영상 확인하기",
			Footer:   "AI Fashion Studio에서 발송된 이메일입니다.",
		},
		TemplateVideoFailed: {
			Subject:  "영상 생성 실패 안내 😢",
			Title:    "영상 생성 실패",
			Greeting: "안녕하세요, %s님!",
			Message:  "죄송합니다. 영상 생성 중 문제가 발생했습니다.",
			Extra:    "오류 내용:",
			Button:   "다시 시도하기",
			Footer:   "AI Fashion Studio에서 발송된 이메일입니다.",
		},
		TemplateAvatarComplete: {
			Subject:  "AI 모델이 생성되었습니다! ✨",
			Title:    "AI 모델 생성 완료",
			Greeting: "안녕하세요, %s님!",
			Message:  "'%s' AI 모델이 성공적으로 생성되었습니다.",
			Extra:    "생성된 프리뷰 이미지:",
			Button:   "모델 확인하기",
			Footer:   "AI Fashion Studio에서 발송된 이메일입니다.",
		},
	},
	types.LanguageEnglish: {
		TemplateVideoComplete: {
			Subject:  "Your video is ready! 🎬",
			Title:    "Video Generation Complete",
			Greeting: "Hello, %s!",
			Message:  "Your AI fashion video has been successfully generated.",
			Button:   "View Video",
			Footer:   "This email was sent from AI Fashion Studio.",
		},
		TemplateVideoFailed: {
			Subject:  "Video generation failed 😢",
			Title:    "Video Generation Failed",
			Greeting: "Hello, %s!",
			Message:  "We're sorry, but there was an issue generating your video.",
			Extra:    "Error details:",
			Button:   "Try Again",
			Footer:   "This email was sent from AI Fashion Studio.",
		},
		TemplateAvatarComplete: {
			Subject:  "Your AI model is ready! ✨",
			Title:    "AI Model Generation Complete",
			Greeting: "Hello, %s!",
			Message:  "Your AI model '%s' has been successfully generated.",
			Extra:    "Generated preview images:",
			Button:   "View Model",
			Footer:   "This email was sent from AI Fashion Studio.",
		},
	},
}

var layout = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html><body>
<h1>{{.Copy.Title}}</h1>
<p>{{.Greeting}}</p>
<p>{{.Body}}</p>
{{- if .Data.ThumbnailURL}}
<img src="{{.Data.ThumbnailURL}}" alt="thumbnail">
{{- end}}
{{- if .Data.ErrorMessage}}
<p><strong>{{.Copy.Extra}}</strong> {{.Data.ErrorMessage}}</p>
{{- end}}
{{- if .Data.PreviewImages}}
<p>{{.Copy.Extra}}</p>
{{- range .Data.PreviewImages}}
<img src="{{.}}" alt="preview">
{{- end}}
{{- end}}
{{- if .Data.VideoURL}}
<p><a href="{{.Data.VideoURL}}">{{.Copy.Button}}</a></p>
{{- end}}
<p>{{.Copy.Footer}}</p>
</body></html>`))

// Render returns the subject and HTML body of msg. Unknown languages fall
// back to English.
func Render(msg Message) (string, string, error) {
	texts, ok := translations[msg.Language]
	if !ok {
		texts = translations[types.LanguageEnglish]
	}
	c, ok := texts[msg.Template]
	if !ok {
		return "", "", fmt.Errorf("unknown template %q", msg.Template)
	}

	name := msg.Data.UserName
	if name == "" {
		name = "User"
	}
	body := c.Message
	if msg.Template == TemplateAvatarComplete {
		body = fmt.Sprintf(c.Message, msg.Data.AvatarName)
	}

	buf := new(bytes.Buffer)
	if err := layout.Execute(buf, struct {
		Copy     copyText
		Greeting string
		Body     string
		Data     Data
	}{
		Copy:     c,
		Greeting: fmt.Sprintf(c.Greeting, name),
		Body:     body,
		Data:     msg.Data,
	}); err != nil {
		return "", "", err
	}
	return c.Subject, buf.String(), nil
}
