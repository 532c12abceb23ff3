// Package storage defines persistence contracts for identity assets.
//
// Each store interface is owned by exactly one component: the directory
// writes users and methods, the two-factor manager writes tokens and
// enrollments, and the session manager writes sessions.
package storage
