// Package password implements salted, one-way password hashing with
// argon2id, encoded in the PHC string format. Parameters ride along in the
// hash so verification works across parameter upgrades.
package password
