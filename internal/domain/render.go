package domain

import "strings"

// RenderMessage substitutes {key} placeholders in the campaign message with
// the recipient's personalization fields. Unknown placeholders are left
// untouched; the template syntax itself is owned by the CRM layer.
func RenderMessage(template string, fields FieldMap) string {
	message := template
	for key, value := range fields {
		message = strings.ReplaceAll(message, "{"+key+"}", value)
	}
	return message
}
