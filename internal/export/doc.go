// ABOUTME: Package documentation for transcript and event export
// ABOUTME: Markdown, HTML, and JSON lines output

// Package export turns stored conversations into files.
//
// Transcripts are rebuilt from agent memory rather than the event log: every
// agent that saw a message holds a copy, so [Build] merges copies by message
// id and sorts the result. [RenderMarkdown] and [RenderHTML] format a
// transcript. [WriteEventsJSONL] dumps an event partition, zstd-compressed on
// request.
package export
