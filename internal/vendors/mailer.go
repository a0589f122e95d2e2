package vendors

import (
    "context"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
)

// LogMailer writes every outgoing mail to the log instead of a vendor
// API.  Template rendering happens vendor-side in production, so the
// only contract to honor here is "template name plus data".
type LogMailer struct {
    Log *zap.Logger
}

// Send implements jobs.Mailer.
func (m *LogMailer) Send(_ context.Context, template string, data map[string]interface{}) error {
    fields := make([]zapcore.Field, 0, len(data)+1)
    fields = append(fields, zap.String("template", template))
    for k, v := range data {
        fields = append(fields, zap.Any(k, v))
    }
    m.Log.Info("mail:send", fields...)
    return nil
}
