package notify

import "go.uber.org/zap"

// LogDelivery delivers messages as structured log lines. It stands in for a
// mail channel until one is configured.
func LogDelivery(log *zap.Logger) func(Message) {
	return func(msg Message) {
		log.Info(msg.Subject(),
			zap.String("type", msg.Type),
			zap.String("student_id", msg.StudentID),
			zap.String("session_id", msg.SessionID),
			zap.String("class_id", msg.ClassID),
			zap.Time("timestamp", msg.Timestamp))
	}
}
