package outbound

import (
	"context"
	"log"

	"github.com/campuskit/events-core/internal/model"
)

// Renderer receives issued certificates for PDF rendering and email
// delivery. The certificate record is durable before this is called and the
// call is never retried; duplicate suppression lives on the record, not
// here.
type Renderer interface {
	Render(ctx context.Context, cert *model.Certificate)
}

// LogRenderer is the default Renderer when no rendering backend is wired.
type LogRenderer struct{}

// Render logs the hand-off.
func (LogRenderer) Render(_ context.Context, cert *model.Certificate) {
	log.Printf("certificate %s for user %s event %s handed to renderer", cert.ID, cert.UserID, cert.EventID)
}
