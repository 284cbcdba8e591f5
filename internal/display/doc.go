// Package display renders pipeline results for the terminal: colored
// status lines, width-aware tables and JSON/YAML output for scripting.
package display
