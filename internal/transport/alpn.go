/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * ALPN tag, kept bit-exact per spec section 1/6.
 */

package transport

// ALPN is the exact 14-byte ALPN protocol tag negotiated by every
// connection. It must match byte-for-byte; the implementation's module
// path is unrelated to the wire constant it carries.
const ALPN = "rust-p2p-usb/1"
