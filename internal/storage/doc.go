// Package storage persists clockd's document collections:
//   - schedules: recurring weekday+time rules authored by users
//   - movements: actuator motion profiles (presets and custom)
//   - executions: append-only trigger firing log
//   - users: admin API credentials
//
// The scheduler core only depends on a narrow slice of this API
// (active schedules, movement-by-id, schedule-by-id, execution append);
// the rest serves the admin CRUD surface.
package storage
