/*
The package sms implements everything that is necessary for sending, listing and deleting short text messages
through the AT command interface of a GSM modem in text mode. This implementation is based on:
  [27.005] 3GPP TS 27.005 V16.0.0 (2020-07), SMS text mode and storage commands
  [27.007] 3GPP TS 27.007 V16.6.0 (2020-06), character set selection (+CSCS)

Restrictions:
PDU mode is not supported, messages are always handled in text mode.
Concatenated messages are not reassembled, every message is handled on its own.

*/
package sms
