package types

// Version is the wvrunner release version.
// The notification payload and journal records are stamped with it.
const Version = "0.4.0"

// Marker is the literal prefix that precedes the agent's structured result.
const Marker = "WVRUNNER_RESULT: "
