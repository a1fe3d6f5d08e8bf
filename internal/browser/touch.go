package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/raysh454/probekit/internal/model"
)

// MinTouchTarget is the smallest usable hit area in CSS px.
const MinTouchTarget = 44

// TouchIssue is an interactive element with a hit area below MinTouchTarget.
type TouchIssue struct {
	Element string  `json:"element"`
	Text    string  `json:"text,omitempty"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

func (t TouchIssue) String() string {
	s := fmt.Sprintf("%s %.0fx%.0f", t.Element, t.Width, t.Height)
	if t.Text != "" {
		s += fmt.Sprintf(" %q", t.Text)
	}
	return s
}

const touchAuditScript = `(function(min){
var sel='button,a,input[type=submit],input[type=button],[role=button]';
var out=[];
document.querySelectorAll(sel).forEach(function(e){
  var st=getComputedStyle(e);
  if(st.display==='none'||st.visibility==='hidden')return;
  var r=e.getBoundingClientRect();
  if(r.width===0&&r.height===0)return;
  if(r.width>=min&&r.height>=min)return;
  var d=e.tagName.toLowerCase();
  if(e.id)d+='#'+e.id;
  if(typeof e.className==='string'&&e.className.trim())d+='.'+e.className.trim().split(/\s+/).join('.');
  out.push({element:d,text:(e.innerText||e.value||'').trim().slice(0,40),width:r.width,height:r.height});
});
return out;
})(%d)`

// AuditTouchTargets lists the visible interactive elements on the current
// page whose bounding box is narrower or shorter than MinTouchTarget.
func (s *Scope) AuditTouchTargets(ctx context.Context) ([]TouchIssue, error) {
	var issues []TouchIssue
	if err := s.Evaluate(ctx, fmt.Sprintf(touchAuditScript, MinTouchTarget), &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// TouchOutcomeName names the audit outcome of a page path.
func TouchOutcomeName(path string) string {
	return "touch:" + path
}

// AuditPage loads path under baseURL and records one outcome for its touch
// targets: success iff there are no issues. A screenshot is attached
// whatever the result.
func (s *Scope) AuditPage(ctx context.Context, baseURL, path string) (out model.Outcome) {
	out = model.Outcome{
		Layer:    model.LayerBrowser,
		SubLayer: model.SubLayerFunctionality,
		Name:     TouchOutcomeName(path),
		Target:   baseURL,
	}
	start := time.Now()
	defer func() {
		out.LatencyMS = time.Since(start).Milliseconds()
		out.RecordedAt = time.Now()
		if s.d.cfg.ScreenshotDir == "" {
			return
		}
		shot, err := s.Screenshot(context.WithoutCancel(ctx), out.Name)
		if err != nil {
			out.Details = append(out.Details, "screenshot failed: "+err.Error())
			return
		}
		out.Artifacts = append(out.Artifacts, shot)
	}()

	page, err := url.JoinPath(baseURL, path)
	if err != nil {
		out.Fail(model.KindHarnessError, err.Error())
		return out
	}
	if err := s.Navigate(ctx, page); err != nil {
		out.FailErr(err)
		return out
	}
	issues, err := s.AuditTouchTargets(ctx)
	if err != nil {
		out.FailErr(err)
		return out
	}
	out.DOMState = fmt.Sprintf("touch_issues=%d", len(issues))
	if len(issues) == 0 {
		out.Pass()
		return out
	}
	names := make([]string, 0, len(issues))
	for _, i := range issues {
		out.Details = append(out.Details, i.String())
		names = append(names, i.Element)
	}
	out.Fail(model.KindDOMAssertionFailed, fmt.Sprintf("%d touch targets below %dpx: %s", len(issues), MinTouchTarget, strings.Join(names, ", ")))
	return out
}
