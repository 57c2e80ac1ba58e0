// Package browser drives the target page through Playwright.
//
// A Driver owns one chromium session: a browser, an isolated context and a
// single page. It implements the run loop's Interface:
//
//   - Send dispatches an ask (chat input) or a submit (password field),
//     captures any modal hint, dismisses the modal and reads the heading once
//     the page has settled.
//   - CurrentHeading reads and normalizes the level heading.
//
// Screenshots and DOM dumps are written on request for artifacts.
//
// Element lookups go through configurable CSS selectors so the driver can be
// pointed at a page whose markup differs from the defaults.
package browser
