// Package viz renders generated trajectories in the terminal.
//
// Two surfaces are provided:
//
//   - [PlotColumn]: static ASCII charts of one table column, one chart
//     per patient
//   - [LiveModel]: an interactive Bubble Tea view stepping a single
//     patient through the study day by day
//
// # Key Bindings
//
//	Space - Pause/Resume playback
//	N     - Advance one day while paused
//	R     - Restart the patient from day zero
//	Q     - Quit
package viz
