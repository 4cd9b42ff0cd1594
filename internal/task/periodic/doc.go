// Package periodic runs foxq's housekeeping jobs on cron or interval
// schedules: queue checkpoints and the optional automatic restart of error
// tasks.
//
// Interval schedules get a random startup spread so jobs registered at the
// same moment do not all fire together.
package periodic
