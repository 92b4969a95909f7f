package vector

// All returns one instance of every registered vector, in the fixed
// per-protocol order the source catalogue lists them in. Order matters:
// it is the round-robin sequence the Dispatcher rotates through for a
// given protocol's vector list.
func All() []Vector {
	return []Vector{
		smtpStripFromCapabilities{},
		smtpProtocolDowngradeToV2{},
		smtpStripWithInvalidResponseCode{},
		smtpStripWithTemporaryError{},
		smtpStripWithError{},
		smtpUntrustedIntercept{},
		smtpProtocolDowngradeStripExtendedMode{},
		smtpInjectCommand{},

		pop3StripFromCapabilities{},
		pop3StripWithError{},
		pop3UntrustedIntercept{},

		imapStripFromCapabilities{},
		imapStripWithError{},
		imapUntrustedIntercept{},

		ftpStripFromCapabilities{},
		ftpStripWithError{},
		ftpUntrustedIntercept{},

		nntpStripFromCapabilities{},
		nntpStripWithError{},
		nntpUntrustedIntercept{},

		xmppStripFromCapabilities{},
		xmppStripInboundTLS{},
		xmppUntrustedIntercept{},

		acapStripFromCapabilities{},
		acapStripWithError{},
		acapUntrustedIntercept{},

		ircStripFromCapabilities{},
		ircStripWithError{},
		ircStripWithNotRegistered{},
		ircStripCAPWithNotRegistered{},
		ircStripWithSilentDrop{},
		ircUntrustedIntercept{},
	}
}

// ByFullName indexes All() by its "Protocol.Name" catalogue identifier.
func ByFullName() map[string]Vector {
	out := make(map[string]Vector, 32)
	for _, v := range All() {
		out[FullName(v)] = v
	}
	return out
}
