// Package logger builds the process-wide structured logger: JSON in
// production, text elsewhere, tagged with the deployment environment.
package logger
