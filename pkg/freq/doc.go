/*
Package freq provides the frequency range algebra used for capability
matching.

A Set is a list of inclusive Hz ranges. Challenges declare the
frequencies they may transmit on; devices declare what they can reach;
dispatch intersects the two and picks a transmit frequency from the
result. Normalize sorts and merges overlapping ranges so Intersect and
Contains stay simple.

Parsing accepts human units ("433.92MHz", "1.2GHz", "915MHz-928MHz") and
comma-separated lists of points and ranges. Values marshal to plain Hz
integers in JSON; the pretty forms exist for configs and CLI output.
*/
package freq
