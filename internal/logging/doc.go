// Package logging is pampax's file logging layer. Structured JSON logs
// land in ~/.pampax/logs with size-based rotation and are mirrored to
// stderr; the level is info by default and debug with --debug.
package logging
