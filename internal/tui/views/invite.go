package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
	qrcode "github.com/skip2/go-qrcode"
)

// InviteView shows a scannable join link for a conversation.
type InviteView struct {
	*tview.TextView
}

// NewInviteView creates a new invite view.
func NewInviteView() *InviteView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true).SetTitle(" Invite ")

	return &InviteView{TextView: tv}
}

// ShowLink renders link as a QR code with the link text below it.
func (iv *InviteView) ShowLink(conversation, link string) {
	iv.Clear()
	iv.SetTitle(" Invite to " + conversation + " ")
	_, _ = fmt.Fprintf(iv, "\n%s\n[::d]%s[-:-:-]\n\n[::d]Esc to close[-:-:-]", renderQR(link), tview.Escape(link))
}

// renderQR draws content with half-block characters, two bitmap rows per
// terminal line.
func renderQR(content string) string {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "  (QR generation failed: " + err.Error() + ")"
	}

	bitmap := qr.Bitmap()
	var sb strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		for x := range bitmap[y] {
			top := bitmap[y][x]
			bot := y+1 < len(bitmap) && bitmap[y+1][x]
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String()
}
