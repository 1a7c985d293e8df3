// Package http exposes the room tracker over JSON.
//
// Authentication happens upstream; the caller identity arrives in the
// X-User-ID header and is required on every mutating booking route.
//
//   - POST /rooms, GET /rooms, GET /rooms/{id}: room catalog with the current
//     availability projection (roomDTO).
//   - GET /rooms/{id}/availability?at=RFC3339: resolved availability at a moment.
//   - GET /rooms/{id}/events, GET /rooms/{id}/reports: live events and reports.
//   - POST /rooms/{id}/occupy, POST /rooms/{id}/free: occupations.
//   - POST /rooms/{id}/reports/{unavailable|free|busy}: observations.
//   - PATCH /events/{id}, DELETE /events/{id}: edits of occupations and
//     unavailability periods.
//   - GET /changes?object_uuid=, POST /changes/{id}/revert: audit history.
//   - POST /accounts/verifications, POST /accounts/verifications/confirm,
//     POST /accounts: e-mail verified registration.
//
// DTOs live next to the handler that renders them.
package http
